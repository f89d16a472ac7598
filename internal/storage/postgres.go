/**
 * PostgreSQL Client for the QuickCuts worker
 *
 * Persists alignment runs and their per-image outcomes.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS quickcuts;

CREATE TABLE IF NOT EXISTS quickcuts.alignment_runs (
	id               TEXT PRIMARY KEY,
	batch_run_id     TEXT,
	target_word      TEXT NOT NULL,
	status           TEXT NOT NULL,
	total_images     INTEGER NOT NULL DEFAULT 0,
	successful_count INTEGER NOT NULL DEFAULT 0,
	failed_count     INTEGER NOT NULL DEFAULT 0,
	skipped_count    INTEGER NOT NULL DEFAULT 0,
	cancelled        BOOLEAN NOT NULL DEFAULT FALSE,
	config           JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_code       TEXT,
	error_message    TEXT,
	duration_ms      BIGINT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quickcuts.alignment_images (
	run_id          TEXT NOT NULL REFERENCES quickcuts.alignment_runs(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	image           TEXT NOT NULL,
	success         BOOLEAN NOT NULL,
	reason          TEXT,
	output_path     TEXT,
	detected_word   TEXT,
	confidence      INTEGER,
	partial         BOOLEAN NOT NULL DEFAULT FALSE,
	background      TEXT,
	qdrant_point_id TEXT,
	PRIMARY KEY (run_id, position)
);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// RunUpdate represents a run status update
type RunUpdate struct {
	RunID           string
	BatchRunID      string
	TargetWord      string
	Status          string
	TotalImages     int
	SuccessfulCount int
	FailedCount     int
	SkippedCount    int
	Cancelled       bool
	Config          []byte
	ErrorCode       string
	ErrorMessage    string
	DurationMs      int64
}

// ImageRecord is one row of quickcuts.alignment_images.
type ImageRecord struct {
	Position     int
	Image        string
	Success      bool
	Reason       string
	OutputPath   string
	DetectedWord string
	Confidence   int
	Partial      bool
	Background   string
	PointID      string
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the quickcuts schema and tables if missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpdateRunStatus upserts a run row. An empty config or zero duration keeps
// the stored value.
func (p *PostgresClient) UpdateRunStatus(ctx context.Context, update *RunUpdate) error {
	if update.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	config := update.Config
	if len(config) == 0 {
		config = []byte("{}")
	}
	config = sanitizeJSONForPostgres(config)

	query := `
		INSERT INTO quickcuts.alignment_runs (
			id, batch_run_id, target_word, status,
			total_images, successful_count, failed_count, skipped_count, cancelled,
			config, error_code, error_message, duration_ms,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4,
			$5, $6, $7, $8, $9,
			$10::jsonb, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13::bigint, 0),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			batch_run_id = COALESCE(EXCLUDED.batch_run_id, quickcuts.alignment_runs.batch_run_id),
			status = EXCLUDED.status,
			total_images = GREATEST(EXCLUDED.total_images, quickcuts.alignment_runs.total_images),
			successful_count = EXCLUDED.successful_count,
			failed_count = EXCLUDED.failed_count,
			skipped_count = EXCLUDED.skipped_count,
			cancelled = EXCLUDED.cancelled,
			config = CASE WHEN EXCLUDED.config = '{}'::jsonb THEN quickcuts.alignment_runs.config ELSE EXCLUDED.config END,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			duration_ms = COALESCE(EXCLUDED.duration_ms, quickcuts.alignment_runs.duration_ms),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err := p.db.QueryRowContext(
		ctx,
		query,
		update.RunID,
		update.BatchRunID,
		update.TargetWord,
		update.Status,
		update.TotalImages,
		update.SuccessfulCount,
		update.FailedCount,
		update.SkippedCount,
		update.Cancelled,
		string(config),
		update.ErrorCode,
		update.ErrorMessage,
		update.DurationMs,
	).Scan(&returnedID)
	if err != nil {
		return fmt.Errorf("failed to update run status (run=%s, status=%s): %w", update.RunID, update.Status, err)
	}
	return nil
}

// RecordImageResults replaces the per-image rows of a run in one transaction.
func (p *PostgresClient) RecordImageResults(ctx context.Context, runID string, records []ImageRecord) (err error) {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM quickcuts.alignment_images WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear image results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("quickcuts", "alignment_images",
		"run_id", "position", "image", "success", "reason", "output_path",
		"detected_word", "confidence", "partial", "background", "qdrant_point_id"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx,
			runID, r.Position, r.Image, r.Success,
			nullString(r.Reason), nullString(r.OutputPath), nullString(r.DetectedWord),
			r.Confidence, r.Partial, nullString(r.Background), nullString(r.PointID),
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy image %q: %w", r.Image, err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush image results: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit image results: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escape sequences JSONB rejects (\u0000)
// and blanks other control characters. Image paths can carry both.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
