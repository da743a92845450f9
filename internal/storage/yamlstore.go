package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// YAMLStore keeps one YAML file per run in a directory
type YAMLStore struct {
	mu  sync.RWMutex
	dir string
}

// NewYAMLStore creates the directory if needed
func NewYAMLStore(dir string) (*YAMLStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &YAMLStore{dir: dir}, nil
}

func (s *YAMLStore) file(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

func (s *YAMLStore) Save(_ context.Context, run *types.SearchResult) error {
	if run == nil || run.ID == "" {
		return ErrNoID
	}
	path, err := s.file(run.ID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write atomically
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save run file: %w", err)
	}
	return nil
}

func (s *YAMLStore) Get(_ context.Context, id string) (*types.SearchResult, error) {
	path, err := s.file(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return readRun(path)
}

func readRun(path string) (*types.SearchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	var run types.SearchResult
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run file %s: %w", filepath.Base(path), err)
	}
	return &run, nil
}

func (s *YAMLStore) List(_ context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var out []RunSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		run, err := readRun(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Summarize(run))
	}
	sortSummaries(out)
	return out, nil
}

func (s *YAMLStore) Delete(_ context.Context, id string) error {
	path, err := s.file(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

func (s *YAMLStore) Close() error { return nil }
