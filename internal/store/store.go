// Package store keeps job-history metadata in an embedded sqlite
// database so completed transcriptions survive server restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for a job id.
var ErrNotFound = errors.New("job record not found")

// Record is one completed (or failed) job.
type Record struct {
	JobID        string    `json:"job_id"`
	SourceName   string    `json:"source_name"`
	Model        string    `json:"model"`
	Language     string    `json:"language"`
	Status       string    `json:"status"` // completed, failed
	ErrorKind    string    `json:"error_kind,omitempty"`
	SRTPath      string    `json:"srt_path,omitempty"`
	AnalysisPath string    `json:"analysis_path,omitempty"`
	WordCount    int       `json:"word_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// DB is the job-history store.
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL UNIQUE,
	source_name TEXT NOT NULL,
	model TEXT NOT NULL,
	language TEXT NOT NULL,
	status TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	srt_path TEXT NOT NULL DEFAULT '',
	analysis_path TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Save inserts one job record.
func (d *DB) Save(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, source_name, model, language, status, error_kind, srt_path, analysis_path, word_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.SourceName, r.Model, r.Language, r.Status, r.ErrorKind,
		r.SRTPath, r.AnalysisPath, r.WordCount, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

// Get returns the record for a job id.
func (d *DB) Get(ctx context.Context, jobID string) (*Record, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT job_id, source_name, model, language, status, error_kind, srt_path, analysis_path, word_count, created_at
		FROM jobs WHERE job_id = ?`, jobID)

	var r Record
	err := row.Scan(&r.JobID, &r.SourceName, &r.Model, &r.Language, &r.Status,
		&r.ErrorKind, &r.SRTPath, &r.AnalysisPath, &r.WordCount, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job record: %w", err)
	}
	return &r, nil
}

// Recent returns up to limit records, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT job_id, source_name, model, language, status, error_kind, srt_path, analysis_path, word_count, created_at
		FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.JobID, &r.SourceName, &r.Model, &r.Language, &r.Status,
			&r.ErrorKind, &r.SRTPath, &r.AnalysisPath, &r.WordCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
