// Package search implements the MIO search: it samples and mutates tests,
// evaluates them against the SUT and keeps the best per target in an archive.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/archive"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var (
	// ErrNoActions is returned when the schema yields no callable action
	ErrNoActions = errors.New("no API action to test")
	// ErrNoEvaluator is returned when a search has no SUT instance to run against
	ErrNoEvaluator = errors.New("no evaluator configured")

	errFull     = errors.New("test has the maximum number of actions")
	errLastCall = errors.New("cannot remove the last API call")
)

// Event types emitted during a search
const (
	EventStarted       = "search_started"
	EventEvaluation    = "evaluation"
	EventTargetCovered = "target_covered"
	EventSync          = "sync"
	EventCompleted     = "search_completed"
	EventFailed        = "search_failed"
)

// Evaluator runs a test against one SUT instance
type Evaluator interface {
	Evaluate(ctx context.Context, ind *individual.Individual) (*fitness.Evaluated, error)
}

// Recorder receives target counts as the archive evolves
type Recorder interface {
	SetTargets(covered, reached int)
}

type nopRecorder struct{}

func (nopRecorder) SetTargets(int, int) {}

// Event is one step of a running search
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Search orchestrates one or more pipelines over a shared archive
type Search struct {
	config     *types.Config
	templates  []*action.Template
	evaluators []Evaluator
	auth       *auth.Registry
	attacks    *security.Registry
	recorder   Recorder
	logger     *slog.Logger

	// Event subscribers
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
}

// Option configures a Search
type Option func(*Search)

// WithAuth sets the credentials tests may use
func WithAuth(r *auth.Registry) Option {
	return func(s *Search) { s.auth = r }
}

// WithAttacks sets the attack mutators for vulnerability-tagged parameters
func WithAttacks(r *security.Registry) Option {
	return func(s *Search) { s.attacks = r }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Search) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Search) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a search. Each evaluator drives one independent SUT instance
// and gets its own pipeline.
func New(config *types.Config, templates []*action.Template, evaluators []Evaluator, opts ...Option) (*Search, error) {
	if len(evaluators) == 0 {
		return nil, ErrNoEvaluator
	}
	s := &Search{
		config:      config,
		templates:   templates,
		evaluators:  evaluators,
		attacks:     security.NewRegistry(),
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		subscribers: make(map[string][]chan *Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "search")

	if !config.Security.Enabled {
		s.attacks = nil
	}
	if _, err := NewSampler(templates, s.auth, s.attacks, config, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes a search with a fresh archive. See RunArchive.
func (s *Search) Run(ctx context.Context, id string) (*types.SearchResult, error) {
	arch, err := archive.New(s.config.Archive)
	if err != nil {
		return nil, err
	}
	return s.RunArchive(ctx, id, arch)
}

// RunArchive executes a search that fills arch until the budget is spent or
// ctx is cancelled. Cancellation is honoured between tests only.
//
// On an internal fault the partial result is returned together with the
// error, so callers can still report what was found.
func (s *Search) RunArchive(ctx context.Context, id string, arch *archive.Archive) (*types.SearchResult, error) {
	if id == "" {
		id = GenerateID()
	}
	result := &types.SearchResult{
		ID:        id,
		Status:    types.StatusRunning,
		StartTime: time.Now(),
	}

	budget := NewBudget(s.config.Search.MaxEvaluations, s.config.Search.MaxTime)
	stats := &counters{}

	s.logger.Info("search started", "id", id, "pipelines", len(s.evaluators), "templates", len(s.templates))
	s.emit(id, EventStarted, map[string]interface{}{
		"pipelines":       len(s.evaluators),
		"max_evaluations": s.config.Search.MaxEvaluations,
		"max_time":        s.config.Search.MaxTime.String(),
	})

	runErr := s.runPipelines(ctx, id, arch, budget, stats)
	if runErr == nil {
		runErr = arch.Validate()
	}

	solution := arch.Solution()
	if runErr == nil && ctx.Err() == nil && s.config.Search.Minimize && len(solution) > 0 {
		m := NewMinimizer(s.evaluators[0], s.config.Search.MinimizeBudget, s.logger)
		minimized, err := m.Minimize(ctx, solution)
		if err != nil {
			s.logger.Warn("minimization stopped", "error", err)
		}
		if minimized != nil {
			solution = minimized.Tests
			result.Statistics.MinimizedActions = minimized.RemovedActions
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Targets = arch.Reports()
	result.Tests = TestCases(solution)
	s.fillStatistics(result, arch, budget, stats)

	switch {
	case runErr != nil:
		result.Status = types.StatusFailed
		result.Partial = true
		result.Error = runErr.Error()
		s.logger.Error("search failed", "id", id, "error", runErr)
		s.emit(id, EventFailed, map[string]interface{}{"error": runErr.Error()})
		return result, runErr
	case ctx.Err() != nil:
		result.Status = types.StatusCancelled
		result.Partial = true
	default:
		result.Status = types.StatusCompleted
	}

	s.logger.Info("search finished",
		"id", id,
		"status", result.Status,
		"evaluations", result.Statistics.Evaluations,
		"covered", result.Statistics.CoveredTargets,
		"tests", len(result.Tests),
	)
	s.emit(id, EventCompleted, result.Statistics)
	return result, nil
}

func (s *Search) runPipelines(ctx context.Context, id string, shared *archive.Archive, budget *Budget, stats *counters) error {
	if len(s.evaluators) == 1 {
		p, err := s.newPipeline(0, id, s.evaluators[0], shared, nil, budget, stats)
		if err != nil {
			return err
		}
		return p.run(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ev := range s.evaluators {
		local, err := archive.New(s.config.Archive)
		if err != nil {
			return err
		}
		p, err := s.newPipeline(i, id, ev, local, shared, budget, stats)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return p.run(gctx)
		})
	}
	return g.Wait()
}

func (s *Search) fillStatistics(result *types.SearchResult, arch *archive.Archive, budget *Budget, stats *counters) {
	st := &result.Statistics
	st.Evaluations = budget.Used()
	st.ActionsExecuted = int(stats.actions.Load())
	st.TruncatedEvaluations = int(stats.truncated.Load())
	st.ReachedTargets = arch.Len()

	covered := arch.Covered()
	st.CoveredTargets = len(covered)
	for _, t := range covered {
		switch {
		case strings.HasPrefix(t, fitness.FaultPrefix+":"):
			st.FaultsFound++
		case strings.HasPrefix(t, fitness.SecurityPrefix+":"):
			st.SecurityFindings++
		}
	}
}

// counters are shared by the pipelines of one search
type counters struct {
	actions   atomic.Int64
	truncated atomic.Int64
}

// Subscribe subscribes to the events of search id
func (s *Search) Subscribe(id string) <-chan *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Event, 100)
	s.subscribers[id] = append(s.subscribers[id], ch)
	return ch
}

// Unsubscribe unsubscribes from events
func (s *Search) Unsubscribe(id string, ch <-chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[id]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[id] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[id]) == 0 {
		delete(s.subscribers, id)
	}
}

// emit sends an event to all subscribers of id
func (s *Search) emit(id, eventType string, data interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	for _, ch := range s.subscribers[id] {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop
		}
	}
}

// GenerateID generates a unique search ID
func GenerateID() string {
	return uuid.New().String()
}

// TestCases converts archived tests into their reportable form
func TestCases(tests []*fitness.Evaluated) []types.TestCase {
	out := make([]types.TestCase, 0, len(tests))
	for i, ev := range tests {
		tc := types.TestCase{
			ID:     ev.Individual.ID,
			Name:   testName(i, ev),
			Covers: ev.Fitness.Covered(),
		}
		for _, a := range ev.Individual.Actions {
			step := types.TestStep{Kind: a.Kind().String(), Name: a.Name(), Auth: a.Auth}
			if r := a.Result; r != nil {
				step.Request = r.Request
				step.Response = r.Response
				step.Command = r.Command
				step.RPC = r.RPC
				step.Error = r.Error
				step.Skipped = r.Skipped
				if r.Request != nil {
					step.Curl = types.GenerateCurlCommand(r.Request)
				}
			}
			tc.Steps = append(tc.Steps, step)
		}
		out = append(out, tc)
	}
	return out
}

func testName(i int, ev *fitness.Evaluated) string {
	suffix := "call"
	for _, a := range ev.Individual.Actions {
		if !a.Kind().IsSetup() {
			suffix = a.Name()
			break
		}
	}
	for _, t := range ev.Fitness.Covered() {
		if strings.HasPrefix(t, fitness.FaultPrefix+":") {
			suffix = "fault_" + suffix
			break
		}
	}
	return fmt.Sprintf("test_%d_%s", i, sanitize(suffix))
}

func sanitize(s string) string {
	var sb strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			sb.WriteByte('_')
			underscore = true
		}
	}
	return strings.Trim(sb.String(), "_")
}
