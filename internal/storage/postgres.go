/**
 * PostgreSQL Client for the OCR worker
 *
 * Handles job status, recognition run summaries, per-word results and the
 * relational side of training samples.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
)

const schema = "ocrcore"

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Kind             string // "recognize" or "resegment"
	Status           string
	PageID           string
	Progress         int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// RunSummary is one recognition run as stored in ocrcore.runs
type RunSummary struct {
	JobID       string
	PageID      string
	SessionID   string
	Languages   []string
	Words       int
	Chars       int
	Rejects     int
	RejectRate  float64
	Cancelled   bool
	CancelledIn string
	FontID      int
	DurationMs  int64
	Text        string
	// Counters holds the remaining per-pass tallies.
	Counters map[string]interface{}
}

// WordResult is one recognised word
type WordResult struct {
	WordID    int
	Block     int
	Row       int
	Text      string
	Language  string
	Certainty float32
	Rejects   int
	Done      bool
	FontID    int
	Left      int
	Bottom    int
	Right     int
	Top       int
}

// SampleRecord is the relational half of a training sample; the vector
// lives in Qdrant under PointID.
type SampleRecord struct {
	PointID string
	JobID   string
	PageID  string
	Label   string
	WordID  int
	Clone   bool
	Left    int
	Bottom  int
	Right   int
	Top     int
}

// sanitizeRate rounds a 0..1 rate to 4 decimal places so it fits NUMERIC(5,4)
// without precision errors; NaN becomes 0.
func sanitizeRate(rate float64) float64 {
	if math.IsNaN(rate) || rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return float64(int(rate*10000+0.5)) / 10000
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

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
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

// UpdateJobStatus upserts the job row. The worker may see a job before
// whoever enqueued it has written the row, so the first update creates it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ocrcore.jobs (
			id, kind, status, page_id, progress, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'recognize'), $3, NULLIF($4, ''),
			$5, NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			page_id = COALESCE(EXCLUDED.page_id, ocrcore.jobs.page_id),
			progress = GREATEST(EXCLUDED.progress, ocrcore.jobs.progress),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocrcore.jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocrcore.jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Kind,             // $2
		update.Status,           // $3
		update.PageID,           // $4
		update.Progress,         // $5
		update.ProcessingTimeMs, // $6
		update.ErrorCode,        // $7
		update.ErrorMessage,     // $8
		metadataJSON,            // $9
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreRunSummary records one recognition run and returns its row id
func (p *PostgresClient) StoreRunSummary(ctx context.Context, run *RunSummary) (int64, error) {
	if run.JobID == "" {
		return 0, fmt.Errorf("job ID is required")
	}

	countersJSON, err := json.Marshal(run.Counters)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal counters: %w", err)
	}
	countersJSON = sanitizeJSONForPostgres(countersJSON)

	query := `
		INSERT INTO ocrcore.runs (
			job_id, page_id, session_id, languages,
			words, chars, rejects, reject_rate,
			cancelled, cancelled_in, font_id, duration_ms,
			text, counters, created_at
		) VALUES (
			$1::uuid, $2, $3, $4,
			$5, $6, $7, $8::NUMERIC(5,4),
			$9, NULLIF($10, ''), NULLIF($11, -1), $12,
			$13, COALESCE($14::jsonb, '{}'::jsonb), NOW()
		)
		RETURNING id
	`

	var id int64
	err = p.db.QueryRowContext(
		ctx,
		query,
		run.JobID,
		run.PageID,
		run.SessionID,
		pq.Array(run.Languages),
		run.Words,
		run.Chars,
		run.Rejects,
		sanitizeRate(run.RejectRate),
		run.Cancelled,
		run.CancelledIn,
		run.FontID,
		run.DurationMs,
		strings.ReplaceAll(run.Text, "\x00", ""),
		countersJSON,
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to store run summary (job=%s): %w", run.JobID, err)
	}

	return id, nil
}

// StoreWordResults bulk-loads the words of run runID with COPY
func (p *PostgresClient) StoreWordResults(ctx context.Context, runID int64, words []WordResult) error {
	if len(words) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, "words",
		"run_id", "word_id", "block_index", "row_index", "text", "language",
		"certainty", "rejects", "done", "font_id",
		"box_left", "box_bottom", "box_right", "box_top"))
	if err != nil {
		return fmt.Errorf("failed to prepare word copy: %w", err)
	}

	for _, w := range words {
		var fontID interface{}
		if w.FontID >= 0 {
			fontID = w.FontID
		}
		if _, err := stmt.ExecContext(ctx,
			runID, w.WordID, w.Block, w.Row, w.Text, w.Language,
			w.Certainty, w.Rejects, w.Done, fontID,
			w.Left, w.Bottom, w.Right, w.Top,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy word %d: %w", w.WordID, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush word copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close word copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit words: %w", err)
	}
	return nil
}

// StoreSampleRecords inserts training sample rows in one transaction
func (p *PostgresClient) StoreSampleRecords(ctx context.Context, samples []SampleRecord) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, "samples",
		"point_id", "job_id", "page_id", "label", "word_id", "is_clone",
		"box_left", "box_bottom", "box_right", "box_top"))
	if err != nil {
		return fmt.Errorf("failed to prepare sample copy: %w", err)
	}

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx,
			s.PointID, s.JobID, s.PageID, s.Label, s.WordID, s.Clone,
			s.Left, s.Bottom, s.Right, s.Top,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy sample %s: %w", s.PointID, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush sample copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close sample copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}
	return nil
}

// ClassCounts returns how many samples each label has across all jobs
func (p *PostgresClient) ClassCounts(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT label, COUNT(*) FROM ocrcore.samples GROUP BY label
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sample count: %w", err)
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			kind,
			status,
			page_id,
			progress,
			processing_time_ms,
			error_code,
			error_message,
			metadata,
			created_at,
			updated_at
		FROM ocrcore.jobs
		WHERE id = $1::uuid
	`

	var (
		id, kind, status        string
		pageID                  sql.NullString
		progress                int
		processingTimeMs        sql.NullInt64
		errorCode, errorMessage sql.NullString
		metadataJSON            []byte
		createdAt, updatedAt    time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &kind, &status, &pageID, &progress, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"kind":      kind,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if pageID.Valid {
		result["pageId"] = pageID.String
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
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

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
