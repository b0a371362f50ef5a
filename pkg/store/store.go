// Package store persists the interval aggregates of a run in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/mpmccode/mpmc/pkg/stats"
)

// Run describes one simulation run.
type Run struct {
	ID       uuid.UUID `json:"id"`
	Ensemble string    `json:"ensemble"`
	Replicas int       `json:"replicas"`
	Started  time.Time `json:"started"`
	Config   []byte    `json:"config"` // Configuration as given to the run
}

// Store is a SQLite-backed sink of interval aggregates.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		ensemble TEXT NOT NULL,
		replicas INTEGER NOT NULL,
		started TEXT NOT NULL,
		config BLOB
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS intervals (
		run TEXT NOT NULL,
		step INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (run, step)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create intervals table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a new run.
func (s *Store) Begin(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, ensemble, replicas, started, config) VALUES (?, ?, ?, ?, ?)`,
		r.ID.String(), r.Ensemble, r.Replicas, r.Started.UTC().Format(time.RFC3339Nano), r.Config)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Aggregate stores the aggregate of one interval. It implements the replica
// sink interface.
func (s *Store) Aggregate(ctx context.Context, run uuid.UUID, agg stats.Aggregate) (retErr error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO intervals (run, step, payload) VALUES (?, ?, ?)`,
		run.String(), agg.Step, data); err != nil {
		return fmt.Errorf("insert interval: %w", err)
	}
	return tx.Commit()
}

// Runs lists the recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ensemble, replicas, started, config FROM runs ORDER BY started, id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			id      string
			started string
		)
		if err := rows.Scan(&id, &r.Ensemble, &r.Replicas, &started, &r.Config); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s start: %w", id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Intervals returns the aggregates of run in step order.
func (s *Store) Intervals(ctx context.Context, run uuid.UUID) ([]stats.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM intervals WHERE run = ? ORDER BY step`, run.String())
	if err != nil {
		return nil, fmt.Errorf("select intervals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []stats.Aggregate
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var agg stats.Aggregate
		if err := json.Unmarshal(data, &agg); err != nil {
			return nil, fmt.Errorf("decode aggregate: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
