package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/driver"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
	evohttp "github.com/WebFuzzing/EvoMaster-sub017/internal/http"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/metrics"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/schema"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/search"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/server"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

const stopTimeout = 10 * time.Second

// session is a search bound to the SUT instances it drives. Running it stops
// the SUTs afterwards when the kill switch is on.
type session struct {
	*search.Search

	sut         string
	set         *schema.Set
	controllers []*driver.Controller
	client      *evohttp.Client
	killSwitch  bool
	logger      *slog.Logger
}

// instanceAddrs lists the controller addresses of cfg, primary first, without duplicates
func instanceAddrs(cfg types.ControllerConfig) []string {
	primary := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	addrs := []string{primary}
	seen := map[string]bool{primary: true}
	for _, addr := range cfg.Instances {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	return addrs
}

// openSession connects to every controller of cfg, starts the SUTs, loads
// the schema and builds a search with one pipeline per instance
func openSession(ctx context.Context, cfg *types.Config, rec *metrics.Metrics, logger *slog.Logger) (_ *session, err error) {
	client, err := evohttp.NewClient(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	s := &session{
		client:     client,
		killSwitch: cfg.Controller.KillSwitch,
		logger:     logger.With("component", "session"),
	}
	defer func() {
		if err != nil {
			s.stop()
		}
	}()

	var infos []*types.SutInfoDto
	for _, addr := range instanceAddrs(cfg.Controller) {
		ctrl := driver.NewControllerAt(addr, client, driver.WithRecorder(rec), driver.WithLogger(logger))
		info, err := startInstance(ctx, ctrl, cfg.Controller, s.logger)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", addr, err)
		}
		s.controllers = append(s.controllers, ctrl)
		infos = append(infos, info)
	}
	s.sut = infos[0].BaseURLOfSUT

	loader := schema.NewLoader(client, schema.WithMappings(cfg.Security.Mappings), schema.WithLogger(logger))
	s.set, err = loader.Load(ctx, infos[0])
	if err != nil {
		return nil, err
	}

	registry, err := auth.RegistryFromDtos(infos[0].InfoForAuthentication)
	if err != nil {
		return nil, fmt.Errorf("invalid authentication info: %w", err)
	}

	var detector *security.Detector
	if cfg.Security.Enabled {
		detector = security.NewDetector()
	}

	evaluators := make([]search.Evaluator, 0, len(s.controllers))
	for i, ctrl := range s.controllers {
		base := infos[i].BaseURLOfSUT
		if base == "" {
			base = s.set.BaseURL
		}
		evaluators = append(evaluators, fitness.NewEvaluator(ctrl, client, cfg.Controller,
			fitness.WithAuth(registry),
			fitness.WithDetector(detector),
			fitness.WithBaseURL(base),
			fitness.WithRecorder(rec),
			fitness.WithLogger(logger),
		))
	}

	s.Search, err = search.New(cfg, s.set.Templates, evaluators,
		search.WithAuth(registry),
		search.WithAttacks(security.NewRegistry()),
		search.WithRecorder(rec),
		search.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// startInstance waits for the controller, starts its SUT and opens a new search on it
func startInstance(ctx context.Context, ctrl *driver.Controller, cfg types.ControllerConfig, logger *slog.Logger) (*types.SutInfoDto, error) {
	info, err := ctrl.WaitReady(ctx, cfg.StartupWait, time.Second)
	if err != nil {
		return nil, err
	}
	if !info.IsInstrumentationOn {
		logger.Warn("SUT instrumentation is off, only black-box targets are available", "controller", ctrl.BaseURL())
	}
	if err := ctrl.RunSUT(ctx, true, cfg.ResetState, cfg.SQLHeuristics); err != nil {
		return nil, fmt.Errorf("failed to start SUT: %w", err)
	}
	if err := ctrl.NewSearch(ctx); err != nil {
		return nil, fmt.Errorf("failed to open search: %w", err)
	}
	sut, err := ctrl.InfoSUT(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe SUT: %w", err)
	}
	return sut, nil
}

// Run executes the search and releases the SUTs
func (s *session) Run(ctx context.Context, id string) (*types.SearchResult, error) {
	defer s.stop()
	result, err := s.Search.Run(ctx, id)
	if result != nil {
		result.SUT = s.sut
	}
	return result, err
}

func (s *session) stop() {
	if s.killSwitch {
		for _, ctrl := range s.controllers {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			if err := ctrl.StopSUT(ctx); err != nil {
				s.logger.Warn("failed to stop SUT", "controller", ctrl.BaseURL(), "error", err)
			}
			cancel()
		}
	}
	s.client.Close()
}

// applyRequest overlays the non-zero fields of a job request on a copy of base
func applyRequest(base *types.Config, req server.SearchRequest) (*types.Config, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg := *base
	cfg.Controller.Instances = append([]string(nil), base.Controller.Instances...)

	if req.Controller != "" {
		host, portStr, err := net.SplitHostPort(req.Controller)
		if err != nil {
			return nil, fmt.Errorf("invalid controller address %q: %w", req.Controller, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid controller port %q", portStr)
		}
		cfg.Controller.Host = host
		cfg.Controller.Port = port
	}
	if len(req.Instances) > 0 {
		cfg.Controller.Instances = append([]string(nil), req.Instances...)
	}
	if req.MaxEvaluations > 0 {
		cfg.Search.MaxEvaluations = req.MaxEvaluations
	}
	if req.MaxTime != "" {
		d, _ := time.ParseDuration(req.MaxTime)
		cfg.Search.MaxTime = d
	}
	if req.Seed != 0 {
		cfg.Search.Seed = req.Seed
	}
	return &cfg, nil
}
