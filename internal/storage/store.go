// Package storage persists finished search runs: the final archive snapshot
// and the generated test suite of each run.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// ErrNotFound is returned when no run has the requested id
var ErrNotFound = errors.New("run not found")

// ErrNoID is returned when saving a run without an id
var ErrNoID = errors.New("run has no id")

// Store persists search results keyed by run id
type Store interface {
	Save(ctx context.Context, run *types.SearchResult) error
	Get(ctx context.Context, id string) (*types.SearchResult, error)
	List(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// RunSummary is the listing view of a stored run
type RunSummary struct {
	ID             string             `json:"id" yaml:"id"`
	Status         types.SearchStatus `json:"status" yaml:"status"`
	Partial        bool               `json:"partial" yaml:"partial"`
	SUT            string             `json:"sut,omitempty" yaml:"sut,omitempty"`
	StartTime      time.Time          `json:"start_time" yaml:"start_time"`
	Duration       time.Duration      `json:"duration" yaml:"duration"`
	Evaluations    int                `json:"evaluations" yaml:"evaluations"`
	CoveredTargets int                `json:"covered_targets" yaml:"covered_targets"`
	Tests          int                `json:"tests" yaml:"tests"`
}

// Summarize builds the listing view of run
func Summarize(run *types.SearchResult) RunSummary {
	return RunSummary{
		ID:             run.ID,
		Status:         run.Status,
		Partial:        run.Partial,
		SUT:            run.SUT,
		StartTime:      run.StartTime,
		Duration:       run.Duration,
		Evaluations:    run.Statistics.Evaluations,
		CoveredTargets: run.Statistics.CoveredTargets,
		Tests:          len(run.Tests),
	}
}

// New opens the backend selected by cfg
func New(ctx context.Context, cfg types.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "yaml":
		if cfg.Path == "" {
			return nil, errors.New("yaml storage needs a path")
		}
		return NewYAMLStore(expandPath(cfg.Path))
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("sqlite storage needs a path")
		}
		return OpenSQLite(ctx, expandPath(cfg.Path))
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// sortSummaries orders runs newest first
func sortSummaries(runs []RunSummary) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].StartTime.After(runs[j].StartTime)
		}
		return runs[i].ID < runs[j].ID
	})
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
