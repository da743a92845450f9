package search

import (
	"context"
	"log/slog"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
)

// Minimizer drops actions from solution tests while every target the test
// covered stays covered
type Minimizer struct {
	evaluator   Evaluator
	maxAttempts int
	logger      *slog.Logger
}

// MinimizeResult summarises a minimization pass
type MinimizeResult struct {
	Tests          []*fitness.Evaluated
	RemovedActions int
	Attempts       int
}

// NewMinimizer creates a minimizer re-running tests through evaluator
func NewMinimizer(evaluator Evaluator, maxAttempts int, logger *slog.Logger) *Minimizer {
	if maxAttempts <= 0 {
		maxAttempts = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Minimizer{evaluator: evaluator, maxAttempts: maxAttempts, logger: logger}
}

// Minimize shortens each test. Tests are tried in order until the attempt
// budget runs out; the rest are returned unchanged.
func (m *Minimizer) Minimize(ctx context.Context, tests []*fitness.Evaluated) (*MinimizeResult, error) {
	result := &MinimizeResult{Tests: make([]*fitness.Evaluated, len(tests))}
	copy(result.Tests, tests)

	for k, t := range tests {
		current := t
		required := t.Fitness.Covered()

		// try removing each action, last first
		for i := current.Size() - 1; i >= 0 && current.Size() > 1; i-- {
			if result.Attempts >= m.maxAttempts || ctx.Err() != nil {
				return result, nil
			}
			if i >= current.Size() {
				continue
			}

			candidate := current.Individual.Copy()
			if candidate.Remove(i) != nil || !setupFirst(candidate) {
				continue
			}
			result.Attempts++

			ev, err := m.evaluator.Evaluate(ctx, candidate)
			if err != nil {
				return result, err
			}
			if ev.Truncated || !coversAll(ev.Fitness, required) {
				continue
			}
			current = ev
			result.Tests[k] = ev
			result.RemovedActions++
		}

		if current != t {
			m.logger.Debug("test minimized", "test", t.Individual.ID, "from", t.Size(), "to", current.Size())
		}
	}
	return result, nil
}

func coversAll(v *fitness.Value, targets []string) bool {
	for _, t := range targets {
		if v.Score(t) < fitness.MaxScore {
			return false
		}
	}
	return true
}
