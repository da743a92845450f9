// Package driver is the client side of the controller protocol spoken by the
// driver process wrapped around the system under test.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var (
	// ErrTimeout is returned when a controller call outlives its deadline
	ErrTimeout = errors.New("controller call timed out")
	// ErrUnavailable is returned when the controller cannot be reached
	ErrUnavailable = errors.New("controller unavailable")
	// ErrController is returned when the controller answers with an error
	ErrController = errors.New("controller error")
)

// HTTPClient interface for HTTP operations
type HTTPClient interface {
	Do(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error)
}

// Recorder receives one observation per controller call
type Recorder interface {
	ObserveCall(endpoint, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, string, time.Duration) {}

// Outcomes reported to the Recorder
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Controller talks to one driver instance
type Controller struct {
	baseURL  string
	client   HTTPClient
	recorder Recorder
	logger   *slog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a client for the controller listening on host:port
func NewController(host string, port int, client HTTPClient, opts ...Option) *Controller {
	return NewControllerAt(net.JoinHostPort(host, strconv.Itoa(port)), client, opts...)
}

// NewControllerAt creates a client for the controller at addr ("host:port" or a URL)
func NewControllerAt(addr string, client HTTPClient, opts ...Option) *Controller {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Controller{
		baseURL:  strings.TrimRight(base, "/") + types.BasePath,
		client:   client,
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "driver", "controller", c.baseURL)
	return c
}

// BaseURL returns the controller API root
func (c *Controller) BaseURL() string { return c.baseURL }

// ControllerInfo fetches driver metadata
func (c *Controller) ControllerInfo(ctx context.Context) (*types.ControllerInfoDto, error) {
	var info types.ControllerInfoDto
	if err := c.call(ctx, "GET", types.ControllerInfoPath, nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// InfoSUT fetches the static SUT description
func (c *Controller) InfoSUT(ctx context.Context) (*types.SutInfoDto, error) {
	var info types.SutInfoDto
	if err := c.call(ctx, "GET", types.InfoSUTPath, nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RunSUT starts or stops the SUT, optionally resetting its state
func (c *Controller) RunSUT(ctx context.Context, run, reset, sqlHeuristics bool) error {
	dto := types.SutRunDto{Run: &run, ResetState: &reset, CalculateSQLHeuristics: &sqlHeuristics}
	return c.call(ctx, "PUT", types.RunSUTPath, nil, dto, nil)
}

// StopSUT stops the SUT
func (c *Controller) StopSUT(ctx context.Context) error {
	run := false
	return c.call(ctx, "PUT", types.RunSUTPath, nil, types.SutRunDto{Run: &run}, nil)
}

// ResetSUT resets the SUT state between tests
func (c *Controller) ResetSUT(ctx context.Context) error {
	run, reset := true, true
	return c.call(ctx, "PUT", types.RunSUTPath, nil, types.SutRunDto{Run: &run, ResetState: &reset}, nil)
}

// NewSearch tells the driver a search session starts
func (c *Controller) NewSearch(ctx context.Context) error {
	return c.call(ctx, "POST", types.NewSearchPath, nil, nil, nil)
}

// NewAction announces the action about to run. RPC calls are executed by the
// driver and their outcome returned; otherwise the result is nil.
func (c *Controller) NewAction(ctx context.Context, dto types.ActionDto) (*types.ActionResponseDto, error) {
	var resp types.ActionResponseDto
	hasData, err := c.callData(ctx, "PUT", types.NewActionPath, nil, dto, &resp)
	if err != nil || !hasData {
		return nil, err
	}
	return &resp, nil
}

// TestResults fetches the coverage snapshot since the last reset
func (c *Controller) TestResults(ctx context.Context, query types.TestResultsQuery) (*types.TestResultsDto, error) {
	params := url.Values{}
	if len(query.IDs) > 0 {
		ids := make([]string, len(query.IDs))
		for i, id := range query.IDs {
			ids[i] = strconv.Itoa(id)
		}
		params.Set("ids", strings.Join(ids, ","))
	}
	if query.KillSwitch {
		params.Set("killSwitch", "true")
	}
	if query.AllCovered {
		params.Set("allCovered", "true")
	}

	var results types.TestResultsDto
	if err := c.call(ctx, "GET", types.TestResultsPath, params, nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// ExtraHeuristics fetches heuristics not visible as coverage, such as SQL distances
func (c *Controller) ExtraHeuristics(ctx context.Context) (*types.ExtraHeuristicsDto, error) {
	var extra types.ExtraHeuristicsDto
	hasData, err := c.callData(ctx, "GET", types.ExtraHeuristicsPath, nil, nil, &extra)
	if err != nil || !hasData {
		return nil, err
	}
	return &extra, nil
}

// DatabaseCommand runs a setup command against the SUT database
func (c *Controller) DatabaseCommand(ctx context.Context, dto types.DatabaseCommandDto) error {
	return c.call(ctx, "POST", types.DatabaseCommandPath, nil, dto, nil)
}

// WaitReady polls controllerInfo until it answers or wait elapses
func (c *Controller) WaitReady(ctx context.Context, wait, interval time.Duration) (*types.ControllerInfoDto, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(wait)
	for {
		info, err := c.ControllerInfo(ctx)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, err
		}
		c.logger.Debug("controller not ready", "error", err)

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Controller) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.callData(ctx, method, path, query, body, out)
	return err
}

// callData performs one controller call and decodes the data field of the
// envelope into out. It reports whether a data field was present.
func (c *Controller) callData(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	endpoint := strings.TrimPrefix(path, "/")
	start := time.Now()

	hasData, err := c.do(ctx, method, path, query, body, out)

	outcome := OutcomeOK
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = OutcomeTimeout
	case errors.Is(err, ErrUnavailable):
		outcome = OutcomeUnavailable
	case err != nil:
		outcome = OutcomeError
	}
	c.recorder.ObserveCall(endpoint, outcome, time.Since(start))
	return hasData, err
}

func (c *Controller) do(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	req := &types.HTTPRequest{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if len(query) > 0 {
		req.URL += "?" + query.Encode()
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode %s request: %w", path, err)
		}
		req.Body = string(b)
		req.ContentType = "application/json"
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %s %s: %v", ErrTimeout, method, path, err)
		}
		return false, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}

	var wrapped types.WrappedResponseDto
	if strings.TrimSpace(resp.Body) != "" {
		if err := json.Unmarshal([]byte(resp.Body), &wrapped); err != nil {
			return false, fmt.Errorf("%w: %s %s: invalid response: %v", ErrController, method, path, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || wrapped.Error != "" {
		msg := wrapped.Error
		if msg == "" {
			msg = "status " + strconv.Itoa(resp.StatusCode)
		}
		return false, fmt.Errorf("%w: %s %s: %s", ErrController, method, path, msg)
	}

	if out == nil || len(wrapped.Data) == 0 || string(wrapped.Data) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(wrapped.Data, out); err != nil {
		return false, fmt.Errorf("%w: %s %s: invalid data: %v", ErrController, method, path, err)
	}
	return true, nil
}
