package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/action"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// fakeSUT scores every action it sees as covered and rewards x close to 42
type fakeSUT struct {
	mu       sync.Mutex
	calls    int
	instance string
	failAt   int
	onCall   func(n int)
}

func (f *fakeSUT) Evaluate(ctx context.Context, ind *individual.Individual) (*fitness.Evaluated, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(n)
	}
	if f.failAt > 0 && n == f.failAt {
		return nil, errors.New("controller lost")
	}

	v := fitness.NewValue()
	for _, a := range ind.Actions {
		v.Set("call:"+a.Name(), 1)
		if p := a.Param("x"); p != nil {
			if g, ok := p.Gene.(*gene.IntegerGene); ok {
				d := g.Int() - 42
				if d < 0 {
					d = -d
				}
				v.Set("num:42", 1/(1+float64(d)))
			}
		}
	}
	if f.instance != "" {
		v.Set("instance:"+f.instance, 1)
	}
	return &fitness.Evaluated{Individual: ind, Fitness: v, Executed: ind.Size()}, nil
}

func (f *fakeSUT) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func templates() []*action.Template {
	return []*action.Template{
		{ID: "GET:/a", Kind: action.KindREST, Verb: "GET", Path: "/a"},
		{ID: "GET:/num", Kind: action.KindREST, Verb: "GET", Path: "/num", Params: []action.ParamTemplate{
			{Name: "x", In: action.InQuery, Gene: gene.NewIntegerGene("x", 0, 100)},
		}},
	}
}

func searchConfig(evaluations int) *types.Config {
	cfg := types.DefaultConfig()
	cfg.Search.MaxEvaluations = evaluations
	cfg.Search.MaxTime = 0
	cfg.Search.Seed = 7
	cfg.Search.Minimize = false
	cfg.Search.MaxActions = 4
	return cfg
}

func TestSearchRespectsEvaluationBudget(t *testing.T) {
	sut := &fakeSUT{}
	s, err := New(searchConfig(30), templates(), []Evaluator{sut})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 30, sut.count())
	assert.Equal(t, 30, result.Statistics.Evaluations)
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.ID)
	require.NotEmpty(t, result.Tests)

	var covered []string
	for _, tr := range result.Targets {
		if tr.Covered {
			covered = append(covered, tr.ID)
		}
	}
	assert.Contains(t, covered, "call:GET:/a")
	assert.Contains(t, covered, "call:GET:/num")
	assert.Equal(t, len(covered), result.Statistics.CoveredTargets)
}

func TestSearchCancellationStopsBetweenTests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sut := &fakeSUT{onCall: func(n int) {
		if n == 5 {
			cancel()
		}
	}}
	s, err := New(searchConfig(1000), templates(), []Evaluator{sut})
	require.NoError(t, err)

	result, err := s.Run(ctx, "run-cancel")
	require.NoError(t, err)

	assert.Equal(t, 5, sut.count(), "the test in flight completes, no new one starts")
	assert.Equal(t, types.StatusCancelled, result.Status)
	assert.True(t, result.Partial)
	assert.Equal(t, 5, result.Statistics.Evaluations)
	assert.NotEmpty(t, result.Tests)
}

func TestSearchInternalFaultReturnsPartialResult(t *testing.T) {
	sut := &fakeSUT{failAt: 4}
	s, err := New(searchConfig(100), templates(), []Evaluator{sut})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), "")
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.True(t, result.Partial)
	assert.Contains(t, result.Error, "controller lost")
	assert.Equal(t, 4, result.Statistics.Evaluations)
	assert.NotEmpty(t, result.Targets, "targets reached before the fault are kept")
}

func TestSearchPipelinesShareArchive(t *testing.T) {
	// both pipelines must reach their first test before either continues
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(n int) {
		if n == 1 {
			started.Done()
			started.Wait()
		}
	}
	first := &fakeSUT{instance: "0", onCall: barrier}
	second := &fakeSUT{instance: "1", onCall: barrier}

	cfg := searchConfig(40)
	cfg.Search.SyncInterval = 5
	s, err := New(cfg, templates(), []Evaluator{first, second})
	require.NoError(t, err)

	result, err := s.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 40, first.count()+second.count())
	assert.Equal(t, 40, result.Statistics.Evaluations)

	covered := map[string]bool{}
	for _, tr := range result.Targets {
		covered[tr.ID] = tr.Covered
	}
	assert.True(t, covered["instance:0"])
	assert.True(t, covered["instance:1"])
}

func TestSearchEmitsEvents(t *testing.T) {
	s, err := New(searchConfig(10), templates(), []Evaluator{&fakeSUT{}})
	require.NoError(t, err)

	ch := s.Subscribe("run-events")
	_, err = s.Run(context.Background(), "run-events")
	require.NoError(t, err)

	var events []*Event
	for len(ch) > 0 {
		events = append(events, <-ch)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventCompleted, events[len(events)-1].Type)

	evaluations := 0
	covered := 0
	for _, e := range events {
		switch e.Type {
		case EventEvaluation:
			evaluations++
		case EventTargetCovered:
			covered++
		}
	}
	assert.Equal(t, 10, evaluations)
	assert.Greater(t, covered, 0)

	s.Unsubscribe("run-events", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestNewSearchValidation(t *testing.T) {
	t.Run("no evaluator", func(t *testing.T) {
		_, err := New(searchConfig(1), templates(), nil)
		assert.ErrorIs(t, err, ErrNoEvaluator)
	})

	t.Run("no API template", func(t *testing.T) {
		sqlOnly := []*action.Template{{ID: "INSERT:users", Kind: action.KindSQL, Path: "users"}}
		_, err := New(searchConfig(1), sqlOnly, []Evaluator{&fakeSUT{}})
		assert.ErrorIs(t, err, ErrNoActions)
	})
}

func TestTestCases(t *testing.T) {
	tmpl := &action.Template{ID: "POST:/users/{id}", Kind: action.KindREST, Verb: "POST", Path: "/users/{id}"}
	a := tmpl.Instantiate(gene.NewRandomness(1))
	a.Result = &action.Result{
		Request:  &types.HTTPRequest{Method: "POST", URL: "http://sut/users/1"},
		Response: &types.HTTPResponse{StatusCode: 500},
	}
	ind, err := individual.New(a)
	require.NoError(t, err)

	v := fitness.NewValue()
	v.Set("fault:POST:/users/{id}", 1)
	tests := TestCases([]*fitness.Evaluated{{Individual: ind, Fitness: v}})

	require.Len(t, tests, 1)
	assert.Equal(t, "test_0_fault_post_users_id", tests[0].Name)
	assert.Equal(t, []string{"fault:POST:/users/{id}"}, tests[0].Covers)
	require.Len(t, tests[0].Steps, 1)
	assert.Equal(t, "rest", tests[0].Steps[0].Kind)
	assert.Contains(t, tests[0].Steps[0].Curl, "http://sut/users/1")
}

func TestBudget(t *testing.T) {
	t.Run("evaluations", func(t *testing.T) {
		b := NewBudget(3, 0)
		for i := 0; i < 3; i++ {
			assert.True(t, b.Take())
		}
		assert.False(t, b.Take())
		assert.Equal(t, 3, b.Used())
		assert.Equal(t, 1.0, b.Progress())
		assert.True(t, b.Exhausted())
	})

	t.Run("time", func(t *testing.T) {
		b := NewBudget(0, time.Minute)
		now := b.start
		b.now = func() time.Time { return now }

		assert.True(t, b.Take())
		now = now.Add(30 * time.Second)
		assert.InDelta(t, 0.5, b.Progress(), 1e-9)
		now = now.Add(30 * time.Second)
		assert.False(t, b.Take())
	})

	t.Run("default when unbounded", func(t *testing.T) {
		b := NewBudget(0, 0)
		assert.Equal(t, int64(types.DefaultConfig().Search.MaxEvaluations), b.maxEvaluations)
	})
}

func TestSchedule(t *testing.T) {
	cfg := types.DefaultConfig()
	s := NewSchedule(cfg)

	start := s.At(0)
	assert.Equal(t, cfg.Search.ProbRandom, start.ProbRandom)
	assert.Equal(t, cfg.Archive.PopulationSize, start.PopulationSize)
	assert.Equal(t, cfg.Search.StartMutations, start.Mutations)
	assert.False(t, start.Focused)

	mid := s.At(0.25)
	assert.InDelta(t, 0.25, mid.ProbRandom, 1e-9)
	assert.Equal(t, 5, mid.PopulationSize)
	assert.Equal(t, 6, mid.Mutations)

	focused := s.At(0.6)
	assert.True(t, focused.Focused)
	assert.Equal(t, 0.0, focused.ProbRandom)
	assert.Equal(t, 1, focused.PopulationSize)
	assert.Equal(t, cfg.Search.EndMutations, focused.Mutations)
}
