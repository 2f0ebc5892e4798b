// Package storage persists execution records. The current state of each
// record is upserted on every transition; terminal records are also appended
// to an append-only history.
package storage

import (
	"context"
	"errors"

	"github.com/rohankatakam/careops/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// HistoryFilter narrows ListHistory. Zero values match everything.
type HistoryFilter struct {
	Agent  string
	Status models.ExecutionStatus
	Limit  int
}

// DefaultHistoryLimit applies when HistoryFilter.Limit is zero
const DefaultHistoryLimit = 100

// Stats summarises terminal outcomes
type Stats struct {
	Total      int `json:"total_actions" db:"total"`
	Autonomous int `json:"autonomous_actions" db:"autonomous"`
	Approved   int `json:"approved_actions" db:"approved"`
	Rejected   int `json:"rejected_actions" db:"rejected"`
	TimedOut   int `json:"timed_out_actions" db:"timed_out"`
	Failed     int `json:"failed_actions" db:"failed"`
	Blocked    int `json:"blocked_actions" db:"blocked"`
}

// Store defines the storage interface
type Store interface {
	// SaveExecution inserts or replaces the current state of a record
	SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error
	// AppendHistory adds a terminal record to the audit history
	AppendHistory(ctx context.Context, rec *models.ExecutionRecord) error
	// GetExecution looks a record up by record id or action id
	GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error)
	// ListHistory returns terminal records, newest first
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*models.ExecutionRecord, error)
	Stats(ctx context.Context) (Stats, error)

	// Close connection
	Close() error
}

func (f HistoryFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}
