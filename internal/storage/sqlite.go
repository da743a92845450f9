package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// SQLiteStore keeps runs in a single SQLite database. Listing reads the
// indexed columns only; the full result is a JSON payload.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			partial INTEGER NOT NULL,
			sut TEXT NOT NULL,
			start_time INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			evaluations INTEGER NOT NULL,
			covered INTEGER NOT NULL,
			tests INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_start_time ON runs (start_time);
	`)
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is closed")
	}
	return s.db, nil
}

func (s *SQLiteStore) Save(ctx context.Context, run *types.SearchResult) error {
	if run == nil || run.ID == "" {
		return ErrNoID
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}

	sum := Summarize(run)
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, status, partial, sut, start_time, duration, evaluations, covered, tests, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			partial = excluded.partial,
			sut = excluded.sut,
			start_time = excluded.start_time,
			duration = excluded.duration,
			evaluations = excluded.evaluations,
			covered = excluded.covered,
			tests = excluded.tests,
			payload = excluded.payload
	`, sum.ID, string(sum.Status), sum.Partial, sum.SUT, sum.StartTime.UnixNano(), int64(sum.Duration),
		sum.Evaluations, sum.CoveredTargets, sum.Tests, payload)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.SearchResult, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var run types.SearchResult
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, status, partial, sut, start_time, duration, evaluations, covered, tests
		FROM runs ORDER BY start_time DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum      RunSummary
			status   string
			start    int64
			duration int64
		)
		if err := rows.Scan(&sum.ID, &status, &sum.Partial, &sum.SUT, &start, &duration,
			&sum.Evaluations, &sum.CoveredTargets, &sum.Tests); err != nil {
			return nil, err
		}
		sum.Status = types.SearchStatus(status)
		sum.StartTime = time.Unix(0, start)
		sum.Duration = time.Duration(duration)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
