// Package fitness executes test cases against the SUT and turns what the
// driver and the responses reveal into per-target heuristic scores.
package fitness

import (
	"sort"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/security"
)

// MaxScore is the heuristic value of a covered target
const MaxScore = 1.0

// Value maps coverage targets to heuristic scores in [0, 1]
type Value struct {
	scores map[string]float64
}

// NewValue creates an empty fitness value
func NewValue() *Value {
	return &Value{scores: make(map[string]float64)}
}

// Set records score for target, keeping the best score seen so far
func (v *Value) Set(target string, score float64) {
	switch {
	case score < 0:
		score = 0
	case score > MaxScore:
		score = MaxScore
	}
	if old, ok := v.scores[target]; ok && old >= score {
		return
	}
	v.scores[target] = score
}

// Score returns the score of target, 0 when unknown
func (v *Value) Score(target string) float64 {
	return v.scores[target]
}

// Has reports whether target was reached at all
func (v *Value) Has(target string) bool {
	_, ok := v.scores[target]
	return ok
}

// Targets returns every reached target in sorted order
func (v *Value) Targets() []string {
	out := make([]string, 0, len(v.scores))
	for t := range v.scores {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Covered returns the targets at MaxScore in sorted order
func (v *Value) Covered() []string {
	var out []string
	for _, t := range v.Targets() {
		if v.scores[t] >= MaxScore {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of reached targets
func (v *Value) Len() int { return len(v.scores) }

// Copy returns an independent copy
func (v *Value) Copy() *Value {
	c := NewValue()
	for t, s := range v.scores {
		c.scores[t] = s
	}
	return c
}

// Evaluated is an individual together with the outcome of running it
type Evaluated struct {
	Individual *individual.Individual
	Fitness    *Value
	// Truncated is set when a failure stopped the test before its last action
	Truncated bool
	// Executed counts the actions that completed
	Executed int
	Findings []security.Finding
	// Err is the transient failure that truncated the test, if any
	Err error
}

// Size is the number of actions, used to prefer shorter tests
func (e *Evaluated) Size() int {
	return e.Individual.Size()
}

// Score is shorthand for e.Fitness.Score
func (e *Evaluated) Score(target string) float64 {
	return e.Fitness.Score(target)
}

// Copy duplicates the individual and the fitness so the copy can be mutated
func (e *Evaluated) Copy() *Evaluated {
	return &Evaluated{
		Individual: e.Individual.Copy(),
		Fitness:    e.Fitness.Copy(),
		Truncated:  e.Truncated,
		Executed:   e.Executed,
		Findings:   append([]security.Finding(nil), e.Findings...),
		Err:        e.Err,
	}
}
