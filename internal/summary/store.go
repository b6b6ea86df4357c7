// Package summary records per-epoch training outcomes in a SQLite database
// under the run directory and renders loss curves from them.
package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/seqforge/seqforge/internal/metrics"
)

// ErrStoreClosed is returned by operations on a closed Store.
var ErrStoreClosed = errors.New("summary: store closed")

// DefaultFile is the database name inside a run directory.
const DefaultFile = "summary.db"

// Store appends epoch records for one or more runs.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	runID  string
	closed bool
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("summary: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("summary: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started INTEGER NOT NULL,
			config TEXT
		);

		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			train_loss REAL,
			valid_loss REAL,
			valid_r2 REAL,
			elapsed_ms INTEGER NOT NULL,
			best INTEGER NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);

		CREATE TABLE IF NOT EXISTS genome_epochs (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			genome INTEGER NOT NULL,
			train_loss REAL,
			valid_loss REAL,
			valid_r2 REAL,
			PRIMARY KEY (run_id, epoch, genome)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("summary: create schema: %w", err)
	}
	return nil
}

// StartRun registers a new run, storing cfg as JSON, and makes it the target
// of subsequent RecordEpoch calls.
func (s *Store) StartRun(ctx context.Context, cfg any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("summary: encode config: %w", err)
	}
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started, config) VALUES (?, ?, ?)`,
		id, time.Now().UnixNano(), string(raw),
	); err != nil {
		return "", fmt.Errorf("summary: insert run: %w", err)
	}
	s.runID = id
	return id, nil
}

// RunID returns the active run, or "" before StartRun.
func (s *Store) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// RecordEpoch appends ep and its genome rows in one transaction.
func (s *Store) RecordEpoch(ctx context.Context, ep metrics.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.runID == "" {
		return errors.New("summary: no active run")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("summary: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, steps, train_loss, valid_loss, valid_r2, elapsed_ms, best)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, ep.Epoch, ep.Steps,
		nullable(ep.TrainLoss), nullable(ep.ValidLoss), nullable(ep.ValidR2),
		ep.Elapsed.Milliseconds(), boolInt(ep.Best),
	); err != nil {
		return fmt.Errorf("summary: insert epoch %d: %w", ep.Epoch, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO genome_epochs (run_id, epoch, genome, train_loss, valid_loss, valid_r2)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("summary: prepare: %w", err)
	}
	defer stmt.Close()
	for _, g := range ep.Genomes {
		if _, err := stmt.ExecContext(ctx, s.runID, ep.Epoch, g.Genome,
			nullable(g.TrainLoss), nullable(g.ValidLoss), nullable(g.ValidR2)); err != nil {
			return fmt.Errorf("summary: insert genome %d: %w", g.Genome, err)
		}
	}
	return tx.Commit()
}

// History returns the epochs of runID in order, genome rows included.
func (s *Store) History(ctx context.Context, runID string) ([]metrics.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT epoch, steps, train_loss, valid_loss, valid_r2, elapsed_ms, best
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("summary: query epochs: %w", err)
	}
	var history []metrics.Epoch
	index := map[int]int{}
	for rows.Next() {
		var (
			ep               metrics.Epoch
			train, valid, r2 sql.NullFloat64
			elapsedMS, best  int64
		)
		if err := rows.Scan(&ep.Epoch, &ep.Steps, &train, &valid, &r2, &elapsedMS, &best); err != nil {
			rows.Close()
			return nil, fmt.Errorf("summary: scan epoch: %w", err)
		}
		ep.TrainLoss, ep.ValidLoss, ep.ValidR2 = orNaN(train), orNaN(valid), orNaN(r2)
		ep.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		ep.Best = best != 0
		index[ep.Epoch] = len(history)
		history = append(history, ep)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	grows, err := s.db.QueryContext(ctx, `
		SELECT epoch, genome, train_loss, valid_loss, valid_r2
		FROM genome_epochs WHERE run_id = ? ORDER BY epoch, genome`, runID)
	if err != nil {
		return nil, fmt.Errorf("summary: query genomes: %w", err)
	}
	defer grows.Close()
	for grows.Next() {
		var (
			epoch            int
			g                metrics.GenomeEpoch
			train, valid, r2 sql.NullFloat64
		)
		if err := grows.Scan(&epoch, &g.Genome, &train, &valid, &r2); err != nil {
			return nil, fmt.Errorf("summary: scan genome: %w", err)
		}
		g.TrainLoss, g.ValidLoss, g.ValidR2 = orNaN(train), orNaN(valid), orNaN(r2)
		if i, ok := index[epoch]; ok {
			history[i].Genomes = append(history[i].Genomes, g)
		}
	}
	return history, grows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// nullable maps NaN to SQL NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
