// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package runstore persists estimation runs in SQLite and exports them as
// YAML or JSON.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/blp-engine/pkg/types"
)

const dbFile = "runs.db"

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Store manages the run database.
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens or creates dir/runs.db and its schema.
func Open(cfg types.StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dir: cfg.Dir}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			manifest TEXT,
			products INTEGER,
			markets INTEGER,
			draws INTEGER,
			seed INTEGER,
			sigma TEXT,
			sigma_dim INTEGER,
			linear_names TEXT,
			beta TEXT,
			gmm_value REAL,
			converged INTEGER,
			optimizer_status TEXT,
			steps TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE TABLE IF NOT EXISTS market_summaries (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			market TEXT NOT NULL,
			iterations INTEGER,
			final_gap REAL,
			converged INTEGER,
			floor_hits INTEGER,
			PRIMARY KEY (run_id, position)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save stores rec, assigning an ID and CreatedAt when they are empty, and
// returns the stored record.
func (s *Store) Save(ctx context.Context, rec types.RunRecord) (types.RunRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	sigmaJSON, err := json.Marshal(rec.Sigma)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("encoding sigma: %w", err)
	}
	namesJSON, err := json.Marshal(rec.LinearNames)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("encoding linear names: %w", err)
	}
	betaJSON, err := json.Marshal(rec.Beta)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("encoding beta: %w", err)
	}
	stepsJSON, err := json.Marshal(rec.Steps)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("encoding steps: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, created_at, manifest, products, markets, draws, seed,
			sigma, sigma_dim, linear_names, beta, gmm_value, converged, optimizer_status, steps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.CreatedAt.Format(timeLayout), rec.Manifest,
		rec.Products, rec.MarketCount, rec.Draws, int64(rec.Seed),
		string(sigmaJSON), rec.SigmaDim, string(namesJSON), string(betaJSON),
		rec.GMMValue, rec.Converged, rec.OptimizerStatus, string(stepsJSON),
	)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_summaries (run_id, position, market, iterations, final_gap, converged, floor_hits)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range rec.Markets {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, m.Market, m.Iterations, m.FinalGap, m.Converged, m.FloorHits); err != nil {
			return types.RunRecord{}, fmt.Errorf("inserting market %s: %w", m.Market, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.RunRecord{}, fmt.Errorf("committing run: %w", err)
	}
	return rec, nil
}

const runColumns = `id, kind, created_at, manifest, products, markets, draws, seed,
	sigma, sigma_dim, linear_names, beta, gmm_value, converged, optimizer_status, steps`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (types.RunRecord, error) {
	var rec types.RunRecord
	var kind, createdAt string
	var manifest, status sql.NullString
	var sigmaJSON, namesJSON, betaJSON, stepsJSON sql.NullString
	var seed int64
	err := row.Scan(&rec.ID, &kind, &createdAt, &manifest, &rec.Products, &rec.MarketCount, &rec.Draws, &seed,
		&sigmaJSON, &rec.SigmaDim, &namesJSON, &betaJSON, &rec.GMMValue, &rec.Converged, &status, &stepsJSON)
	if err != nil {
		return types.RunRecord{}, err
	}

	rec.Kind = types.RunKind(kind)
	rec.Manifest = manifest.String
	rec.OptimizerStatus = status.String
	rec.Seed = uint64(seed)
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return types.RunRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}

	decode := func(src sql.NullString, dst any) error {
		if !src.Valid || src.String == "" {
			return nil
		}
		return json.Unmarshal([]byte(src.String), dst)
	}
	if err := decode(sigmaJSON, &rec.Sigma); err != nil {
		return types.RunRecord{}, fmt.Errorf("decoding sigma: %w", err)
	}
	if err := decode(namesJSON, &rec.LinearNames); err != nil {
		return types.RunRecord{}, fmt.Errorf("decoding linear names: %w", err)
	}
	if err := decode(betaJSON, &rec.Beta); err != nil {
		return types.RunRecord{}, fmt.Errorf("decoding beta: %w", err)
	}
	if err := decode(stepsJSON, &rec.Steps); err != nil {
		return types.RunRecord{}, fmt.Errorf("decoding steps: %w", err)
	}
	return rec, nil
}

// Get returns the run with id and its market summaries.
func (s *Store) Get(ctx context.Context, id string) (types.RunRecord, error) {
	rec, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("querying run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT market, iterations, final_gap, converged, floor_hits
		 FROM market_summaries WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return types.RunRecord{}, fmt.Errorf("querying market summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m types.MarketSummary
		if err := rows.Scan(&m.Market, &m.Iterations, &m.FinalGap, &m.Converged, &m.FloorHits); err != nil {
			return types.RunRecord{}, fmt.Errorf("scanning market summary: %w", err)
		}
		rec.Markets = append(rec.Markets, m)
	}
	return rec, rows.Err()
}

// List returns the most recent runs first, without market summaries. A
// limit of zero or less returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]types.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a run and its market summaries.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
