package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/archive"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/fitness"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/gene"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/individual"
)

// pipeline is one MIO loop bound to one SUT instance. With several
// pipelines, each fills a local archive that is merged with the shared one
// every SyncInterval evaluations.
type pipeline struct {
	index     int
	runID     string
	search    *Search
	evaluator Evaluator
	archive   *archive.Archive
	shared    *archive.Archive
	budget    *Budget
	stats     *counters
	schedule  Schedule
	sampler   *Sampler
	mutator   *Mutator
	rnd       *gene.Randomness
	logger    *slog.Logger

	evaluations int
}

func (s *Search) newPipeline(index int, runID string, ev Evaluator, local, shared *archive.Archive, budget *Budget, stats *counters) (*pipeline, error) {
	seed := s.config.Search.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := gene.NewRandomness(seed + int64(index))

	sampler, err := NewSampler(s.templates, s.auth, s.attacks, s.config, rnd)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		index:     index,
		runID:     runID,
		search:    s,
		evaluator: ev,
		archive:   local,
		shared:    shared,
		budget:    budget,
		stats:     stats,
		schedule:  NewSchedule(s.config),
		sampler:   sampler,
		mutator:   NewMutator(sampler, s.config, rnd),
		rnd:       rnd,
		logger:    s.logger.With("pipeline", index),
	}, nil
}

// run loops until the budget is spent, ctx is cancelled or a fault occurs.
// A cancelled ctx is not an error.
func (p *pipeline) run(ctx context.Context) (err error) {
	if p.shared != nil {
		defer func() {
			if err == nil {
				err = p.sync()
			}
		}()
	}

	for {
		// Cancellation is only observed between tests
		if ctx.Err() != nil {
			p.logger.Debug("pipeline cancelled", "evaluations", p.evaluations)
			return nil
		}

		params := p.schedule.At(p.budget.Progress())
		p.archive.SetLimit(params.PopulationSize)

		ind, mutation := p.next(params)
		if !p.budget.Take() {
			return nil
		}

		before := p.archive.Covered()
		ev, err := p.evaluator.Evaluate(ctx, ind)
		if err != nil {
			return fmt.Errorf("evaluating test %s: %w", ind.ID, err)
		}

		out, err := p.archive.Add(ev)
		if err != nil {
			return err
		}
		for _, g := range mutation.Genes {
			g.Impact().Record(out.Improved)
		}

		p.evaluations++
		p.stats.actions.Add(int64(ev.Executed))
		if ev.Truncated {
			p.stats.truncated.Add(1)
		}
		p.report(ev, mutation, out.Kept, before)

		if p.shared != nil && p.search.config.Search.SyncInterval > 0 &&
			p.evaluations%p.search.config.Search.SyncInterval == 0 {
			if err := p.sync(); err != nil {
				return err
			}
		}
	}
}

// next samples a fresh test or mutates a copy of an archived one
func (p *pipeline) next(params Parameters) (*individual.Individual, Mutation) {
	if p.archive.Len() == 0 || p.rnd.Bool(params.ProbRandom) {
		return p.sampler.Sample(), Mutation{}
	}
	parent, _, ok := p.archive.Sample(p.rnd)
	if !ok {
		// every reached target is covered
		return p.sampler.Sample(), Mutation{}
	}

	if p.rnd.Bool(p.search.config.Search.Crossover) {
		if other, _, ok := p.archive.Sample(p.rnd); ok && other != parent {
			if child, ok := p.mutator.Crossover(parent.Individual, other.Individual); ok {
				return child, Mutation{Operations: []Operation{OpCrossover}}
			}
		}
	}

	ind := parent.Individual.Copy()
	return ind, p.mutator.Mutate(ind, params.Mutations)
}

func (p *pipeline) report(ev *fitness.Evaluated, mutation Mutation, kept bool, before []string) {
	p.search.emit(p.runID, EventEvaluation, map[string]interface{}{
		"pipeline":   p.index,
		"test":       ev.Individual.ID,
		"size":       ev.Size(),
		"executed":   ev.Executed,
		"truncated":  ev.Truncated,
		"kept":       kept,
		"operations": mutation.Operations,
		"evaluation": p.budget.Used(),
	})

	covered := p.archive.Covered()
	if len(covered) > len(before) {
		was := make(map[string]bool, len(before))
		for _, t := range before {
			was[t] = true
		}
		for _, t := range covered {
			if !was[t] {
				p.logger.Debug("target covered", "target", t, "test", ev.Individual.ID)
				p.search.emit(p.runID, EventTargetCovered, map[string]interface{}{
					"pipeline": p.index,
					"target":   t,
					"test":     ev.Individual.ID,
				})
			}
		}
	}

	target := p.archive
	if p.shared != nil {
		target = p.shared
	}
	p.search.recorder.SetTargets(len(target.Covered()), target.Len())
}

// sync publishes local findings to the shared archive and pulls back what
// the other pipelines found
func (p *pipeline) sync() error {
	pushed, err := p.shared.Merge(p.archive)
	if err != nil {
		return err
	}
	pulled, err := p.archive.Merge(p.shared)
	if err != nil {
		return err
	}
	p.logger.Debug("archives synchronized", "pushed", pushed, "pulled", pulled)
	p.search.emit(p.runID, EventSync, map[string]interface{}{
		"pipeline": p.index,
		"pushed":   pushed,
		"pulled":   pulled,
	})
	return nil
}
