// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists run summaries and rendered error reports in a
// local SQLite database, backing the `mortem history` command.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mortem-dev/mortem/internal/config"
)

// Sentinel errors returned by store lookups.
var (
	ErrRunNotFound    = errors.New("run not found")
	ErrAmbiguousRunID = errors.New("run id prefix matches multiple runs")
)

// Outcome values stored on finished runs.
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Run is one recorded invocation of the monitor.
type Run struct {
	ID                string
	Target            string
	StartedAt         time.Time
	FinishedAt        time.Time // zero while the run is still open
	ErrorsSeen        int
	ReportsEmitted    int
	ReportsSuppressed int
	LinesDropped      int
	Outcome           string
}

// Report is one rendered error report archived during a run.
type Report struct {
	RunID      string
	ErrorIndex int
	Message    string
	Rendered   string
	CreatedAt  time.Time
}

// Store wraps the SQLite database holding run history.
type Store struct {
	db *sql.DB
}

// Open opens the history database at cfg.Path, creating the file and its
// parent directory on first use.
func Open(cfg config.HistoryConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is empty")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// A single connection keeps the in-memory database alive across calls
	// and serializes writers on file-backed databases.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}

	return s, nil
}

// migrate creates the schema if it does not exist yet.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			errors_seen INTEGER NOT NULL DEFAULT 0,
			reports_emitted INTEGER NOT NULL DEFAULT 0,
			reports_suppressed INTEGER NOT NULL DEFAULT 0,
			lines_dropped INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT NOT NULL,
			error_index INTEGER NOT NULL,
			message TEXT NOT NULL,
			rendered TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, error_index),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}

	return nil
}

// BeginRun records the start of a run. StartedAt is set to now when zero.
func (s *Store) BeginRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `INSERT INTO runs (id, target, started_at, outcome)
	          VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Target,
		run.StartedAt.UnixNano(),
		run.Outcome,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	return nil
}

// FinishRun stores the final counters and outcome for a run. FinishedAt is
// set to now when zero.
func (s *Store) FinishRun(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	query := `UPDATE runs
	          SET finished_at = ?, errors_seen = ?, reports_emitted = ?,
	              reports_suppressed = ?, lines_dropped = ?, outcome = ?
	          WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		run.FinishedAt.UnixNano(),
		run.ErrorsSeen,
		run.ReportsEmitted,
		run.ReportsSuppressed,
		run.LinesDropped,
		run.Outcome,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}

	return nil
}

// GetRun retrieves a run by its full ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT id, target, started_at, finished_at, errors_seen,
	                 reports_emitted, reports_suppressed, lines_dropped, outcome
	          FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return run, nil
}

// ListRuns returns runs newest first. A limit of zero or less returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT id, target, started_at, finished_at, errors_seen,
	                 reports_emitted, reports_suppressed, lines_dropped, outcome
	          FROM runs ORDER BY started_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	return runs, nil
}

// ResolveRunID expands a run ID prefix to the full ID. An exact match wins;
// otherwise the prefix must identify exactly one run.
func (s *Store) ResolveRunID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrRunNotFound
	}

	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM runs WHERE id = ?", prefix).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolving run id: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM runs WHERE id LIKE ? || '%' LIMIT 2", prefix)
	if err != nil {
		return "", fmt.Errorf("resolving run id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var candidate string
		if err := rows.Scan(&candidate); err != nil {
			return "", fmt.Errorf("scanning run id: %w", err)
		}
		ids = append(ids, candidate)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating run ids: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", ErrRunNotFound
	case 1:
		return ids[0], nil
	default:
		return "", ErrAmbiguousRunID
	}
}

// Reports returns the archived reports for a run, ordered by error index.
func (s *Store) Reports(ctx context.Context, runID string) ([]*Report, error) {
	query := `SELECT run_id, error_index, message, rendered, created_at
	          FROM reports WHERE run_id = ? ORDER BY error_index`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var rep Report
		var created int64
		if err := rows.Scan(&rep.RunID, &rep.ErrorIndex, &rep.Message, &rep.Rendered, &created); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		rep.CreatedAt = time.Unix(0, created)
		reports = append(reports, &rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}

	return reports, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Recorder returns a recorder that archives rendered reports under runID.
func (s *Store) Recorder(runID string) *RunRecorder {
	return &RunRecorder{store: s, runID: runID}
}

// RunRecorder archives rendered reports for a single run.
type RunRecorder struct {
	store *Store
	runID string
}

// RecordReport stores one rendered report. Recording the same error index
// again replaces the earlier text.
func (r *RunRecorder) RecordReport(ctx context.Context, errIndex int, message, rendered string) error {
	query := `INSERT INTO reports (run_id, error_index, message, rendered, created_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT(run_id, error_index) DO UPDATE SET
	              message = excluded.message,
	              rendered = excluded.rendered,
	              created_at = excluded.created_at`

	_, err := r.store.db.ExecContext(ctx, query,
		r.runID, errIndex, message, rendered, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.Target,
		&started,
		&finished,
		&run.ErrorsSeen,
		&run.ReportsEmitted,
		&run.ReportsSuppressed,
		&run.LinesDropped,
		&run.Outcome,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		run.FinishedAt = time.Unix(0, finished.Int64)
	}

	return &run, nil
}
