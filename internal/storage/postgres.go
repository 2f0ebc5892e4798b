package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/careops/internal/models"
)

// PostgresStore implements storage using PostgreSQL. Approvals and reasons
// are TEXT[] columns; action, result and verification are JSONB.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL storage and ensures the schema
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{
		db:     db,
		logger: logger,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const postgresColumns = `
		id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action JSONB NOT NULL,
		risk_level TEXT,
		required_approvals TEXT[] NOT NULL DEFAULT '{}',
		reasons TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		execution_type TEXT,
		result JSONB,
		error TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approval_notes TEXT NOT NULL DEFAULT '',
		rejected_by TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		verification JSONB,
		proposed_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ`

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (` + postgresColumns + `,
		PRIMARY KEY (id)
	);

	CREATE TABLE IF NOT EXISTS execution_history (
		seq BIGSERIAL PRIMARY KEY,` + postgresColumns + `
	);

	CREATE INDEX IF NOT EXISTS idx_executions_action ON executions(action_id);
	CREATE INDEX IF NOT EXISTS idx_history_agent ON execution_history(agent);
	CREATE INDEX IF NOT EXISTS idx_history_status ON execution_history(status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// DB exposes the connection so the dead letter queue can share it
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const pgInsert = `(id, action_id, agent, action_type, action, risk_level,
		required_approvals, reasons, status, execution_type, result, error,
		approved_by, approval_notes, rejected_by, rejection_reason, verification,
		proposed_at, updated_at, completed_at)
	VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11::jsonb, $12,
		$13, $14, $15, $16, $17::jsonb, $18, $19, $20)`

func pgArgs(row *executionRow, rec *models.ExecutionRecord) []interface{} {
	return []interface{}{
		row.ID, row.ActionID, row.Agent, row.ActionType, row.Action, row.RiskLevel,
		pq.Array(nonNil(rec.RequiredApprovals)), pq.Array(nonNil(rec.Reasons)),
		row.Status, row.ExecutionType, row.Result, row.Error,
		row.ApprovedBy, row.ApprovalNotes, row.RejectedBy, row.RejectionReason, row.Verification,
		row.ProposedAt, row.UpdatedAt, row.CompletedAt,
	}
}

func (s *PostgresStore) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO executions ` + pgInsert + `
		ON CONFLICT (id) DO UPDATE SET
			action = EXCLUDED.action,
			risk_level = EXCLUDED.risk_level,
			required_approvals = EXCLUDED.required_approvals,
			reasons = EXCLUDED.reasons,
			status = EXCLUDED.status,
			execution_type = EXCLUDED.execution_type,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			approved_by = EXCLUDED.approved_by,
			approval_notes = EXCLUDED.approval_notes,
			rejected_by = EXCLUDED.rejected_by,
			rejection_reason = EXCLUDED.rejection_reason,
			verification = EXCLUDED.verification,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	if _, err := s.db.ExecContext(ctx, query, pgArgs(row, rec)...); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, rec *models.ExecutionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO execution_history `+pgInsert, pgArgs(row, rec)...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"action_id": rec.ActionID,
		"status":    rec.Status,
	}).Debug("execution appended to history")
	return nil
}

// Arrays come back as JSON text so the shared row decoder applies
const pgSelect = `id, action_id, agent, action_type, action::text AS action, COALESCE(risk_level, '') AS risk_level,
	array_to_json(required_approvals)::text AS required_approvals,
	array_to_json(reasons)::text AS reasons,
	status, COALESCE(execution_type, '') AS execution_type, result::text AS result, error,
	approved_by, approval_notes, rejected_by, rejection_reason, verification::text AS verification,
	proposed_at, updated_at, completed_at`

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var row executionRow
	query := `SELECT ` + pgSelect + ` FROM executions WHERE id = $1 OR action_id = $1 LIMIT 1`

	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return row.toRecord()
}

func (s *PostgresStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + pgSelect + ` FROM execution_history
		WHERE ($1 = '' OR agent = $1) AND ($2 = '' OR status = $2)
		ORDER BY seq DESC LIMIT $3`

	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, query, filter.Agent, string(filter.Status), filter.limit()); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rowsToRecords(rows)
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.GetContext(ctx, &st, statsQuery); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
