package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rohankatakam/careops/internal/models"
)

// executionRow is the SQL shape of an ExecutionRecord. Structured fields are
// stored as JSON text.
type executionRow struct {
	ID                string         `db:"id"`
	ActionID          string         `db:"action_id"`
	Agent             string         `db:"agent"`
	ActionType        string         `db:"action_type"`
	Action            string         `db:"action"`
	RiskLevel         string         `db:"risk_level"`
	RequiredApprovals string         `db:"required_approvals"`
	Reasons           string         `db:"reasons"`
	Status            string         `db:"status"`
	ExecutionType     string         `db:"execution_type"`
	Result            sql.NullString `db:"result"`
	Error             string         `db:"error"`
	ApprovedBy        string         `db:"approved_by"`
	ApprovalNotes     string         `db:"approval_notes"`
	RejectedBy        string         `db:"rejected_by"`
	RejectionReason   string         `db:"rejection_reason"`
	Verification      sql.NullString `db:"verification"`
	ProposedAt        time.Time      `db:"proposed_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func toRow(rec *models.ExecutionRecord) (*executionRow, error) {
	action, err := json.Marshal(rec.Action)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	approvals, err := json.Marshal(nonNil(rec.RequiredApprovals))
	if err != nil {
		return nil, fmt.Errorf("marshal approvals: %w", err)
	}
	reasons, err := json.Marshal(nonNil(rec.Reasons))
	if err != nil {
		return nil, fmt.Errorf("marshal reasons: %w", err)
	}

	row := &executionRow{
		ID:                rec.ID,
		ActionID:          rec.ActionID,
		Agent:             rec.Agent,
		ActionType:        string(rec.Action.Type),
		Action:            string(action),
		RiskLevel:         string(rec.RiskLevel),
		RequiredApprovals: string(approvals),
		Reasons:           string(reasons),
		Status:            string(rec.Status),
		ExecutionType:     string(rec.ExecutionType),
		Error:             rec.Error,
		ApprovedBy:        rec.ApprovedBy,
		ApprovalNotes:     rec.ApprovalNotes,
		RejectedBy:        rec.RejectedBy,
		RejectionReason:   rec.RejectionReason,
		ProposedAt:        rec.ProposedAt.UTC(),
		UpdatedAt:         rec.UpdatedAt.UTC(),
	}
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		row.Result = sql.NullString{String: string(b), Valid: true}
	}
	if rec.Verification != nil {
		b, err := json.Marshal(rec.Verification)
		if err != nil {
			return nil, fmt.Errorf("marshal verification: %w", err)
		}
		row.Verification = sql.NullString{String: string(b), Valid: true}
	}
	if rec.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: rec.CompletedAt.UTC(), Valid: true}
	}
	return row, nil
}

func (r *executionRow) toRecord() (*models.ExecutionRecord, error) {
	rec := &models.ExecutionRecord{
		ID:              r.ID,
		ActionID:        r.ActionID,
		Agent:           r.Agent,
		RiskLevel:       models.RiskLevel(r.RiskLevel),
		Status:          models.ExecutionStatus(r.Status),
		ExecutionType:   models.ExecutionType(r.ExecutionType),
		Error:           r.Error,
		ApprovedBy:      r.ApprovedBy,
		ApprovalNotes:   r.ApprovalNotes,
		RejectedBy:      r.RejectedBy,
		RejectionReason: r.RejectionReason,
		ProposedAt:      r.ProposedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Action), &rec.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action of %s: %w", r.ID, err)
	}
	if err := unmarshalList(r.RequiredApprovals, &rec.RequiredApprovals); err != nil {
		return nil, fmt.Errorf("unmarshal approvals of %s: %w", r.ID, err)
	}
	if err := unmarshalList(r.Reasons, &rec.Reasons); err != nil {
		return nil, fmt.Errorf("unmarshal reasons of %s: %w", r.ID, err)
	}
	if r.Result.Valid {
		if err := json.Unmarshal([]byte(r.Result.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result of %s: %w", r.ID, err)
		}
	}
	if r.Verification.Valid {
		var v models.Verification
		if err := json.Unmarshal([]byte(r.Verification.String), &v); err != nil {
			return nil, fmt.Errorf("unmarshal verification of %s: %w", r.ID, err)
		}
		rec.Verification = &v
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		rec.CompletedAt = &t
	}
	return rec, nil
}

func unmarshalList(s string, out *[]string) error {
	if s == "" {
		*out = []string{}
		return nil
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return err
	}
	*out = nonNil(*out)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func rowsToRecords(rows []executionRow) ([]*models.ExecutionRecord, error) {
	out := make([]*models.ExecutionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// statsQuery counts terminal outcomes from the history table
const statsQuery = `
	SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status = 'EXECUTED' AND execution_type = 'AUTONOMOUS' THEN 1 ELSE 0 END), 0) AS autonomous,
		COALESCE(SUM(CASE WHEN status = 'EXECUTED' AND execution_type = 'APPROVED' THEN 1 ELSE 0 END), 0) AS approved,
		COALESCE(SUM(CASE WHEN status = 'REJECTED' THEN 1 ELSE 0 END), 0) AS rejected,
		COALESCE(SUM(CASE WHEN status = 'TIMEOUT' THEN 1 ELSE 0 END), 0) AS timed_out,
		COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0) AS failed,
		COALESCE(SUM(CASE WHEN status = 'BLOCKED' THEN 1 ELSE 0 END), 0) AS blocked
	FROM execution_history
`

func tally(s *Stats, rec *models.ExecutionRecord) {
	s.Total++
	switch rec.Status {
	case models.StatusExecuted:
		switch rec.ExecutionType {
		case models.ExecutionAutonomous:
			s.Autonomous++
		case models.ExecutionApproved:
			s.Approved++
		}
	case models.StatusRejected:
		s.Rejected++
	case models.StatusTimeout:
		s.TimedOut++
	case models.StatusFailed:
		s.Failed++
	case models.StatusBlocked:
		s.Blocked++
	}
}
