package fitness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/auth"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// ErrActionFailed wraps the transient failure that stopped a test early
var ErrActionFailed = errors.New("action failed")

// HTTPClient interface for HTTP operations
type HTTPClient interface {
	Do(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error)
}

// Driver is the part of the controller protocol used while evaluating
type Driver interface {
	ResetSUT(ctx context.Context) error
	NewAction(ctx context.Context, dto types.ActionDto) (*types.ActionResponseDto, error)
	TestResults(ctx context.Context, query types.TestResultsQuery) (*types.TestResultsDto, error)
	ExtraHeuristics(ctx context.Context) (*types.ExtraHeuristicsDto, error)
	DatabaseCommand(ctx context.Context, dto types.DatabaseCommandDto) error
}

// Recorder receives evaluation counters, typically backed by prometheus
type Recorder interface {
	ObserveEvaluation(truncated bool)
	ObserveAction(kind string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvaluation(bool) {}
func (nopRecorder) ObserveAction(string)   {}

// Evaluator runs individuals against the SUT one action at a time
type Evaluator struct {
	driver   Driver
	client   HTTPClient
	config   types.ControllerConfig
	baseURL  string
	auth     *auth.Registry
	detector *security.Detector
	recorder Recorder
	logger   *slog.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Evaluator) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAuth sets the credentials actions may refer to by name
func WithAuth(r *auth.Registry) Option {
	return func(e *Evaluator) { e.auth = r }
}

// WithDetector sets the response signature detector; nil disables security targets
func WithDetector(d *security.Detector) Option {
	return func(e *Evaluator) { e.detector = d }
}

// WithBaseURL sets the SUT base URL requests are rendered against
func WithBaseURL(u string) Option {
	return func(e *Evaluator) { e.baseURL = u }
}

// NewEvaluator creates an evaluator
func NewEvaluator(driver Driver, client HTTPClient, config types.ControllerConfig, opts ...Option) *Evaluator {
	e := &Evaluator{
		driver:   driver,
		client:   client,
		config:   config,
		detector: security.NewDetector(),
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "fitness")
	return e
}

// Evaluate executes every action of ind in order and computes its fitness.
//
// Each driver or SUT call gets its own timeout and is not interrupted by ctx,
// so cancelling ctx never cuts a test in half. The first failing call stops
// the test: later actions are marked skipped and never sent, and the fitness
// covers what already ran. Such failures are reported through Evaluated.Err;
// the returned error is only set for a test that cannot run at all.
func (e *Evaluator) Evaluate(ctx context.Context, ind *individual.Individual) (*Evaluated, error) {
	if err := ind.Validate(); err != nil {
		return nil, err
	}
	ind.ResetResults()
	ind.ResolveBindings()

	ev := &Evaluated{Individual: ind, Fitness: NewValue()}
	defer func() { e.recorder.ObserveEvaluation(ev.Truncated) }()

	if e.config.ResetState {
		if err := e.withTimeout(ctx, e.driver.ResetSUT); err != nil {
			e.truncate(ev, 0, fmt.Errorf("%w: reset: %v", ErrActionFailed, err))
			return ev, nil
		}
	}

	for i, a := range ind.Actions {
		if err := e.execute(ctx, i, a, ind.Actions[:i]); err != nil {
			a.Result.Error = err.Error()
			e.truncate(ev, i+1, fmt.Errorf("%w: %d %s: %w", ErrActionFailed, i, a.Name(), err))
			break
		}
		ev.Executed++
		e.recorder.ObserveAction(a.Kind().String())
		e.localTargets(ev, i)
	}

	results, err := e.testResults(ctx)
	if err != nil {
		e.logger.Warn("no coverage for evaluation", "individual", ind.ID, "error", err)
		return ev, nil
	}
	e.apply(ev, results)
	return ev, nil
}

// truncate marks every action from index from onwards as never sent
func (e *Evaluator) truncate(ev *Evaluated, from int, err error) {
	ev.Truncated = true
	ev.Err = err
	for _, a := range ev.Individual.Actions[from:] {
		a.Result = &action.Result{Skipped: true}
	}
	e.logger.Debug("evaluation truncated", "individual", ev.Individual.ID, "skipped", len(ev.Individual.Actions)-from, "error", err)
}

func (e *Evaluator) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return fn(callCtx)
}

func (e *Evaluator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.config.CallTimeout
	if timeout <= 0 {
		timeout = types.DefaultConfig().Controller.CallTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (e *Evaluator) execute(ctx context.Context, index int, a *action.Action, earlier []*action.Action) error {
	a.Result = &action.Result{}
	if a.FollowCreated {
		a.Result.Chained = followCreated(a, earlier)
	}

	switch a.Kind() {
	case action.KindSQL:
		ins, err := a.RenderInsertion()
		if err != nil {
			return err
		}
		cmd := types.DatabaseCommandDto{Insertions: []types.InsertionDto{ins}}
		a.Result.Command = &cmd
		return e.withTimeout(ctx, func(c context.Context) error {
			return e.driver.DatabaseCommand(c, cmd)
		})

	case action.KindRPC:
		call, err := a.RenderRPC()
		if err != nil {
			return err
		}
		a.Result.RPC = call
		var resp *types.ActionResponseDto
		err = e.withTimeout(ctx, func(c context.Context) error {
			var err error
			resp, err = e.driver.NewAction(c, types.ActionDto{Index: index, Name: a.Name(), RPCCall: call})
			return err
		})
		if err != nil {
			return err
		}
		a.Result.Response = rpcResponse(resp)
		return nil
	}

	// stubs are configured, not announced
	if !a.Kind().IsSetup() {
		err := e.withTimeout(ctx, func(c context.Context) error {
			_, err := e.driver.NewAction(c, types.ActionDto{Index: index, Name: a.Name()})
			return err
		})
		if err != nil {
			return err
		}
	}

	req, err := a.RenderHTTP(e.baseURL, e.credential(a))
	if err != nil {
		return err
	}
	a.Result.Request = req

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	resp, err := e.client.Do(callCtx, req)
	if err != nil {
		return err
	}
	a.Result.Response = resp
	a.CaptureCreated(e.baseURL)
	return nil
}

// followCreated takes path parameter values from the closest earlier action
// whose created resource fits the path of a
func followCreated(a *action.Action, earlier []*action.Action) map[string]string {
	for i := len(earlier) - 1; i >= 0; i-- {
		r := earlier[i].Result
		if r == nil || r.Created == "" {
			continue
		}
		if values, ok := a.MatchCreated(r.Created); ok {
			return values
		}
	}
	return nil
}

func (e *Evaluator) credential(a *action.Action) *auth.Info {
	if a.Auth == "" {
		return nil
	}
	info, ok := e.auth.Get(a.Auth)
	if !ok {
		e.logger.Warn("unknown credential, sending anonymously", "action", a.Name(), "auth", a.Auth)
		return nil
	}
	return info
}

// rpcResponse maps the driver's RPC outcome onto an HTTP-like response so
// status and fault targets apply uniformly
func rpcResponse(dto *types.ActionResponseDto) *types.HTTPResponse {
	if dto == nil {
		return &types.HTTPResponse{StatusCode: 200}
	}
	if dto.Error != "" {
		return &types.HTTPResponse{StatusCode: 500, Body: dto.Error}
	}
	return &types.HTTPResponse{StatusCode: 200, Body: string(dto.RPCResponse)}
}

func (e *Evaluator) testResults(ctx context.Context) (*types.TestResultsDto, error) {
	var results *types.TestResultsDto
	err := e.withTimeout(ctx, func(c context.Context) error {
		var err error
		results, err = e.driver.TestResults(c, types.TestResultsQuery{
			KillSwitch: e.config.KillSwitch,
			AllCovered: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if e.config.SQLHeuristics && len(results.ExtraHeuristics) == 0 {
		err := e.withTimeout(ctx, func(c context.Context) error {
			extra, err := e.driver.ExtraHeuristics(c)
			if err == nil && extra != nil {
				results.ExtraHeuristics = append(results.ExtraHeuristics, *extra)
			}
			return err
		})
		if err != nil {
			e.logger.Debug("extra heuristics unavailable", "error", err)
		}
	}
	return results, nil
}

// apply folds the driver report into the fitness value
func (e *Evaluator) apply(ev *Evaluated, results *types.TestResultsDto) {
	for _, t := range results.Targets {
		id := t.DescriptiveID
		if id == "" {
			id = strconv.Itoa(t.ID)
		}
		ev.Fitness.Set(id, t.Value)
	}

	for i, extra := range results.ExtraHeuristics {
		for j, h := range extra.Heuristics {
			if h.Value < 0 {
				continue
			}
			id := h.ID
			if id == "" {
				id = fmt.Sprintf("%d.%d", i, j)
			}
			ev.Fitness.Set("sql:"+id, 1/(1+h.Value))
		}
	}

	for i, info := range results.AdditionalInfo {
		if i >= ev.Executed {
			break
		}
		learnSpecializations(ev.Individual.Actions[i], info.StringSpecializations)
	}
}

// learnSpecializations seeds string genes whose value the SUT compared against
// constants, so later mutations can try those constants
func learnSpecializations(a *action.Action, specs map[string][]string) {
	if len(specs) == 0 {
		return
	}
	for _, g := range stringGenes(a) {
		for _, s := range specs[g.String()] {
			g.AddSeed(s)
		}
	}
}

// actionTarget names a target specific to one action of the schema
func actionTarget(prefix string, a *action.Action, parts ...string) string {
	id := prefix + ":" + a.Name()
	for _, p := range parts {
		id += ":" + p
	}
	return id
}
