package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/careops/internal/models"
)

// SQLiteStore implements storage using SQLite (for local/development)
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite storage. ":memory:" gives a private
// in-process database.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" to a single shared database
	db.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

const sqliteColumns = `
		id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action TEXT NOT NULL,
		risk_level TEXT,
		required_approvals TEXT,
		reasons TEXT,
		status TEXT NOT NULL,
		execution_type TEXT,
		result TEXT,
		error TEXT,
		approved_by TEXT,
		approval_notes TEXT,
		rejected_by TEXT,
		rejection_reason TEXT,
		verification TEXT,
		proposed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME`

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (` + sqliteColumns + `,
		PRIMARY KEY (id)
	);

	CREATE TABLE IF NOT EXISTS execution_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,` + sqliteColumns + `
	);

	CREATE INDEX IF NOT EXISTS idx_executions_action ON executions(action_id);
	CREATE INDEX IF NOT EXISTS idx_history_agent ON execution_history(agent);
	CREATE INDEX IF NOT EXISTS idx_history_status ON execution_history(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the connection so the dead letter queue can share it
func (s *SQLiteStore) DB() *sqlx.DB { return s.db }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const insertColumns = `(id, action_id, agent, action_type, action, risk_level,
		 required_approvals, reasons, status, execution_type, result, error,
		 approved_by, approval_notes, rejected_by, rejection_reason, verification,
		 proposed_at, updated_at, completed_at)
		VALUES (:id, :action_id, :agent, :action_type, :action, :risk_level,
		 :required_approvals, :reasons, :status, :execution_type, :result, :error,
		 :approved_by, :approval_notes, :rejected_by, :rejection_reason, :verification,
		 :proposed_at, :updated_at, :completed_at)`

func (s *SQLiteStore) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO executions `+insertColumns, row); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, rec *models.ExecutionRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, `INSERT INTO execution_history `+insertColumns, row); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"action_id": rec.ActionID,
		"status":    rec.Status,
	}).Debug("execution appended to history")
	return nil
}

const selectColumns = `id, action_id, agent, action_type, action, risk_level,
	required_approvals, reasons, status, execution_type, result,
	COALESCE(error, '') AS error, COALESCE(approved_by, '') AS approved_by,
	COALESCE(approval_notes, '') AS approval_notes, COALESCE(rejected_by, '') AS rejected_by,
	COALESCE(rejection_reason, '') AS rejection_reason, verification,
	proposed_at, updated_at, completed_at`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var row executionRow
	query := `SELECT ` + selectColumns + ` FROM executions WHERE id = ? OR action_id = ? LIMIT 1`

	err := s.db.GetContext(ctx, &row, query, id, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return row.toRecord()
}

func (s *SQLiteStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM execution_history
		WHERE (? = '' OR agent = ?) AND (? = '' OR status = ?)
		ORDER BY seq DESC LIMIT ?`

	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, query,
		filter.Agent, filter.Agent, string(filter.Status), string(filter.Status), filter.limit())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return rowsToRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.GetContext(ctx, &st, statsQuery); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
