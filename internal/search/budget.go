package search

import (
	"sync/atomic"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// Budget bounds a search by evaluations, wall-clock time, or both. It is
// shared by every pipeline of a search.
type Budget struct {
	maxEvaluations int64
	maxTime        time.Duration
	start          time.Time
	used           atomic.Int64
	now            func() time.Time
}

// NewBudget starts the clock. Non-positive limits are ignored; with neither
// limit set, the default evaluation count applies.
func NewBudget(maxEvaluations int, maxTime time.Duration) *Budget {
	b := &Budget{maxEvaluations: int64(maxEvaluations), maxTime: maxTime, now: time.Now}
	if b.maxEvaluations <= 0 && b.maxTime <= 0 {
		b.maxEvaluations = int64(types.DefaultConfig().Search.MaxEvaluations)
	}
	b.start = b.now()
	return b
}

// Take reserves one evaluation; false means the budget is spent
func (b *Budget) Take() bool {
	if b.maxTime > 0 && b.now().Sub(b.start) >= b.maxTime {
		return false
	}
	if b.maxEvaluations <= 0 {
		b.used.Add(1)
		return true
	}
	for {
		used := b.used.Load()
		if used >= b.maxEvaluations {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Exhausted reports whether no evaluation is left
func (b *Budget) Exhausted() bool {
	return b.Progress() >= 1
}

// Used returns the number of evaluations taken
func (b *Budget) Used() int {
	return int(b.used.Load())
}

// Elapsed returns the time since the search started
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// Progress returns the spent fraction in [0, 1], the larger of the
// evaluation and time fractions
func (b *Budget) Progress() float64 {
	p := 0.0
	if b.maxEvaluations > 0 {
		p = float64(b.used.Load()) / float64(b.maxEvaluations)
	}
	if b.maxTime > 0 {
		if t := float64(b.Elapsed()) / float64(b.maxTime); t > p {
			p = t
		}
	}
	if p > 1 {
		p = 1
	}
	return p
}

// Parameters are the MIO settings in force at one point of the search
type Parameters struct {
	ProbRandom     float64
	PopulationSize int
	Mutations      int
	Focused        bool
}

// Schedule moves the MIO parameters linearly from their start values to their
// focused values until the focused phase begins, and holds them after
type Schedule struct {
	search  types.SearchConfig
	archive types.ArchiveConfig
}

// NewSchedule creates a schedule from config
func NewSchedule(config *types.Config) Schedule {
	return Schedule{search: config.Search, archive: config.Archive}
}

// At returns the parameters at the given budget progress
func (s Schedule) At(progress float64) Parameters {
	focus := s.search.FocusedStart
	if progress >= focus || focus <= 0 {
		return Parameters{
			ProbRandom:     0,
			PopulationSize: atLeastOne(s.archive.FocusedPopulationSize),
			Mutations:      atLeastOne(s.search.EndMutations),
			Focused:        true,
		}
	}
	f := progress / focus
	return Parameters{
		ProbRandom:     s.search.ProbRandom * (1 - f),
		PopulationSize: atLeastOne(lerp(s.archive.PopulationSize, s.archive.FocusedPopulationSize, f)),
		Mutations:      atLeastOne(lerp(s.search.StartMutations, s.search.EndMutations, f)),
	}
}

func lerp(from, to int, f float64) int {
	return from + int(float64(to-from)*f+0.5*sign(to-from))
}

func sign(n int) float64 {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
