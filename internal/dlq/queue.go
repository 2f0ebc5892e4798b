// Package dlq holds deferred verifications that exhausted their retries so
// an operator can review or replay them.
package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// DefaultMaxRetries marks an entry exhausted
const DefaultMaxRetries = 5

// Entry represents a dead letter queue entry
type Entry struct {
	ID           int64                  `json:"id"`
	ActionID     string                 `json:"action_id"`
	Agent        string                 `json:"agent"`
	ActionType   string                 `json:"action_type"`
	ErrorMessage string                 `json:"error_message"`
	RetryCount   int                    `json:"retry_count"`
	LastRetryAt  *time.Time             `json:"last_retry_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Queue manages failed verifications
type Queue struct {
	db         *sqlx.DB
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// NewQueue creates a new DLQ manager over an existing connection. Both the
// sqlite3 and pgx drivers are supported.
func NewQueue(db *sqlx.DB) *Queue {
	return &Queue{
		db:         db,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default().With("component", "dlq"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the dead_letter_queue table if missing
func (q *Queue) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	ts := "DATETIME"
	if q.db.DriverName() != "sqlite3" {
		idColumn = "id BIGSERIAL PRIMARY KEY"
		ts = "TIMESTAMPTZ"
	}

	_, err := q.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS dead_letter_queue (
			%s,
			action_id TEXT NOT NULL UNIQUE,
			agent TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_at %[2]s,
			created_at %[2]s NOT NULL,
			updated_at %[2]s NOT NULL,
			metadata TEXT
		)`, idColumn, ts))
	if err != nil {
		return fmt.Errorf("failed to create DLQ schema: %w", err)
	}
	return nil
}

// Enqueue adds a failed verification to the DLQ
// If the action already exists, increments retry_count
func (q *Queue) Enqueue(ctx context.Context, actionID, agent, actionType string, cause error, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	errorMsg := "unknown error"
	if cause != nil {
		errorMsg = cause.Error()
	}
	now := q.now()

	_, dbErr := q.db.ExecContext(ctx, `
		INSERT INTO dead_letter_queue (action_id, agent, action_type, error_message, retry_count, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, 0, $5, $5, $6)
		ON CONFLICT (action_id) DO UPDATE
		SET retry_count = dead_letter_queue.retry_count + 1,
		    error_message = $4,
		    updated_at = $5,
		    last_retry_at = $5,
		    metadata = $6
	`, actionID, agent, actionType, errorMsg, now, string(metadataJSON))

	if dbErr != nil {
		return fmt.Errorf("failed to enqueue verification to DLQ: %w", dbErr)
	}

	q.logger.Warn("verification enqueued to DLQ",
		"action_id", actionID,
		"agent", agent,
		"error", errorMsg,
	)

	return nil
}

const entryColumns = `id, action_id, agent, action_type, error_message, retry_count, last_retry_at, created_at, updated_at, metadata`

// GetPendingRetries returns entries ready for retry (retry_count < max)
func (q *Queue) GetPendingRetries(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM dead_letter_queue
		WHERE retry_count < $1
		ORDER BY created_at ASC
	`, q.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query DLQ: %w", err)
	}
	defer rows.Close()
	return q.scanEntries(rows)
}

// GetRecentFailures returns the N most recent failures for review
func (q *Queue) GetRecentFailures(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM dead_letter_queue
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", err)
	}
	defer rows.Close()
	return q.scanEntries(rows)
}

func (q *Queue) scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadataJSON sql.NullString
		var lastRetryAt sql.NullTime

		err := rows.Scan(&e.ID, &e.ActionID, &e.Agent, &e.ActionType, &e.ErrorMessage,
			&e.RetryCount, &lastRetryAt, &e.CreatedAt, &e.UpdatedAt, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DLQ entry: %w", err)
		}

		if lastRetryAt.Valid {
			t := lastRetryAt.Time
			e.LastRetryAt = &t
		}

		e.Metadata = make(map[string]interface{})
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				q.logger.Warn("failed to unmarshal metadata", "entry_id", e.ID, "error", err)
			}
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// MarkResolved removes an action from the DLQ after a successful retry
func (q *Queue) MarkResolved(ctx context.Context, actionID string) error {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM dead_letter_queue
		WHERE action_id = $1
	`, actionID)
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		q.logger.Info("verification resolved and removed from DLQ", "action_id", actionID)
	}

	return nil
}

// Stats contains DLQ statistics
type Stats struct {
	TotalEntries     int `json:"total_entries"`
	RetryableEntries int `json:"retryable_entries"`
	ExhaustedRetries int `json:"exhausted_retries"`
}

// GetStats returns DLQ statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN retry_count >= $1 THEN 1 ELSE 0 END), 0) AS exhausted,
			COALESCE(SUM(CASE WHEN retry_count < $1 THEN 1 ELSE 0 END), 0) AS retryable
		FROM dead_letter_queue
	`, q.maxRetries).Scan(&stats.TotalEntries, &stats.ExhaustedRetries, &stats.RetryableEntries)

	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stats: %w", err)
	}

	return &stats, nil
}

// PurgeOld removes DLQ entries older than the specified duration
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)

	result, err := q.db.ExecContext(ctx, `
		DELETE FROM dead_letter_queue
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old DLQ entries: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		q.logger.Info("purged old DLQ entries",
			"count", rows,
			"older_than", olderThan,
		)
	}

	return int(rows), nil
}
