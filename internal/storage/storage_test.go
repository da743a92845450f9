package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

func sampleRun(id string, start time.Time, covered int) *types.SearchResult {
	return &types.SearchResult{
		ID:        id,
		Status:    types.StatusCompleted,
		SUT:       "http://localhost:8080",
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Duration:  2 * time.Second,
		Statistics: types.SearchStatistics{
			Evaluations:    100,
			CoveredTargets: covered,
		},
		Targets: []types.TargetReport{{ID: "call:GET:/a", BestScore: 1, Covered: true, PopulationSize: 1}},
		Tests: []types.TestCase{{
			ID:     "t1",
			Name:   "test_0_get_a",
			Covers: []string{"call:GET:/a"},
			Steps: []types.TestStep{{
				Kind:     "rest",
				Name:     "GET:/a",
				Request:  &types.HTTPRequest{Method: "GET", URL: "http://localhost:8080/a"},
				Response: &types.HTTPResponse{StatusCode: 200, Body: "ok"},
			}},
		}},
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	yamlStore, err := NewYAMLStore(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)

	sqliteStore, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"yaml":   yamlStore,
		"sqlite": sqliteStore,
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			older := sampleRun("run-1", base, 3)
			newer := sampleRun("run-2", base.Add(time.Hour), 5)
			require.NoError(t, store.Save(ctx, older))
			require.NoError(t, store.Save(ctx, newer))

			got, err := store.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, types.StatusCompleted, got.Status)
			assert.True(t, got.StartTime.Equal(base))
			assert.Equal(t, 2*time.Second, got.Duration)
			require.Len(t, got.Tests, 1)
			assert.Equal(t, 200, got.Tests[0].Steps[0].Response.StatusCode)
			assert.Equal(t, []string{"call:GET:/a"}, got.Tests[0].Covers)

			runs, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "run-2", runs[0].ID, "newest first")
			assert.Equal(t, 5, runs[0].CoveredTargets)
			assert.Equal(t, 1, runs[0].Tests)
			assert.Equal(t, 100, runs[1].Evaluations)

			t.Run("overwrite", func(t *testing.T) {
				older.Status = types.StatusFailed
				older.Partial = true
				require.NoError(t, store.Save(ctx, older))
				got, err := store.Get(ctx, "run-1")
				require.NoError(t, err)
				assert.Equal(t, types.StatusFailed, got.Status)
				assert.True(t, got.Partial)

				runs, err := store.List(ctx)
				require.NoError(t, err)
				assert.Len(t, runs, 2)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, "run-2"))
				_, err := store.Get(ctx, "run-2")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, store.Delete(ctx, "run-2"), ErrNotFound)
			})

			t.Run("invalid", func(t *testing.T) {
				assert.ErrorIs(t, store.Save(ctx, &types.SearchResult{}), ErrNoID)
				_, err := store.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run := sampleRun("r", time.Now(), 1)
	require.NoError(t, store.Save(ctx, run))

	run.Status = types.StatusFailed
	got, err := store.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
}

func TestYAMLStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewYAMLStore(dir)
	require.NoError(t, err)

	err = store.Save(context.Background(), &types.SearchResult{ID: "../escape"})
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temporary file is left behind")
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, types.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, types.StorageConfig{Driver: "yaml", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &YAMLStore{}, s)

	s, err = New(ctx, types.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "closing twice is harmless")

	_, err = New(ctx, types.StorageConfig{Driver: "sqlite"})
	assert.Error(t, err)
	_, err = New(ctx, types.StorageConfig{Driver: "postgres"})
	assert.Error(t, err)
}
