// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package jobstore persists batch job metadata and per-request results in
// SQLite so a batch submitted by one process can be resumed by another.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/research-triage/pkg/types"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("batch job not found")

const schema = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id              TEXT PRIMARY KEY,
	backend_id      TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	last_polled_at  DATETIME NOT NULL,
	item_count      INTEGER NOT NULL DEFAULT 0,
	output_location TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS batch_results (
	job_id    TEXT NOT NULL REFERENCES batch_jobs(id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	custom_id TEXT NOT NULL,
	prompt    TEXT NOT NULL,
	text      TEXT NOT NULL DEFAULT '',
	error     TEXT NOT NULL DEFAULT '',
	done      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, position)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_batch_results_custom ON batch_results(job_id, custom_id);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_status ON batch_jobs(status);
`

// Item is one request of a batch job and, once the job has finished, its
// raw outcome.
type Item struct {
	JobID    string `db:"job_id"`
	Position int    `db:"position"`
	CustomID string `db:"custom_id"`
	Prompt   string `db:"prompt"`
	Text     string `db:"text"`
	Error    string `db:"error"`
	Done     bool   `db:"done"`
}

// Store is a SQLite-backed batch job store. It is safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the job database at path, creating parent
// directories as needed. The path ":memory:" opens a private in-memory store.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new job and its items in one transaction.
func (s *Store) Create(ctx context.Context, job types.BatchJob, items []Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	job.CreatedAt = job.CreatedAt.UTC()
	job.LastPolledAt = job.LastPolledAt.UTC()
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO batch_jobs
		(id, backend_id, model, status, created_at, last_polled_at, item_count, output_location, error)
		VALUES (:id, :backend_id, :model, :status, :created_at, :last_polled_at, :item_count, :output_location, :error)`, job); err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}

	for i := range items {
		items[i].JobID = job.ID
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO batch_results
			(job_id, position, custom_id, prompt, text, error, done)
			VALUES (:job_id, :position, :custom_id, :prompt, :text, :error, :done)`, items[i]); err != nil {
			return fmt.Errorf("inserting item %s: %w", items[i].CustomID, err)
		}
	}
	return tx.Commit()
}

// Update overwrites the mutable fields of a job.
func (s *Store) Update(ctx context.Context, job types.BatchJob) error {
	job.LastPolledAt = job.LastPolledAt.UTC()
	res, err := s.db.NamedExecContext(ctx, `UPDATE batch_jobs SET
		backend_id = :backend_id,
		status = :status,
		last_polled_at = :last_polled_at,
		output_location = :output_location,
		error = :error
		WHERE id = :id`, job)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// Get loads one job by id.
func (s *Store) Get(ctx context.Context, id string) (types.BatchJob, error) {
	var job types.BatchJob
	err := s.db.GetContext(ctx, &job, `SELECT * FROM batch_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BatchJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.BatchJob{}, fmt.Errorf("loading job %s: %w", id, err)
	}
	return job, nil
}

// List returns the most recent jobs, newest first. A limit of zero or less
// returns every job.
func (s *Store) List(ctx context.Context, limit int) ([]types.BatchJob, error) {
	query := `SELECT * FROM batch_jobs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var jobs []types.BatchJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Pending returns the jobs that have not reached a terminal status, oldest
// first.
func (s *Store) Pending(ctx context.Context) ([]types.BatchJob, error) {
	query, args, err := sqlx.In(`SELECT * FROM batch_jobs WHERE status IN (?) ORDER BY created_at, id`,
		[]string{string(types.BatchSubmitted), string(types.BatchRunning)})
	if err != nil {
		return nil, fmt.Errorf("building pending query: %w", err)
	}
	var jobs []types.BatchJob
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	return jobs, nil
}

// Items returns the items of a job in submission order.
func (s *Store) Items(ctx context.Context, jobID string) ([]Item, error) {
	var items []Item
	if err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM batch_results WHERE job_id = ? ORDER BY position`, jobID); err != nil {
		return nil, fmt.Errorf("loading items of %s: %w", jobID, err)
	}
	return items, nil
}

// SaveResults records outcomes for items matched by custom id and marks
// them done.
func (s *Store) SaveResults(ctx context.Context, jobID string, results []Item) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		if _, err := tx.ExecContext(ctx,
			`UPDATE batch_results SET text = ?, error = ?, done = 1 WHERE job_id = ? AND custom_id = ?`,
			r.Text, r.Error, jobID, r.CustomID); err != nil {
			return fmt.Errorf("saving result %s: %w", r.CustomID, err)
		}
	}
	return tx.Commit()
}
