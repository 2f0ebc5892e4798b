package models

import "time"

// ApprovalStatus of a pending action or a decision
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	// ApprovalTimeout is produced by a waiter whose deadline passed. It is
	// never stored.
	ApprovalTimeout ApprovalStatus = "TIMEOUT"
)

// PendingRecord is an action awaiting a human decision
type PendingRecord struct {
	ActionID     string         `json:"action_id"`
	Action       Action         `json:"action"`
	RegisteredAt time.Time      `json:"registered_at"`
	Status       ApprovalStatus `json:"status"`
}

// ApprovalDecision is what an approver recorded for an action id
type ApprovalDecision struct {
	Status          ApprovalStatus `json:"status"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	ModifiedAction  *Action        `json:"modified_action,omitempty"`
	RejectedBy      string         `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time     `json:"rejected_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Resolved reports whether a human has approved or rejected
func (d ApprovalDecision) Resolved() bool {
	return d.Status == ApprovalApproved || d.Status == ApprovalRejected
}

// ExecutionStatus is the lifecycle state of an ExecutionRecord
type ExecutionStatus string

const (
	StatusAwaitingApproval ExecutionStatus = "AWAITING_APPROVAL"
	StatusExecuted         ExecutionStatus = "EXECUTED"
	StatusFailed           ExecutionStatus = "FAILED"
	StatusRejected         ExecutionStatus = "REJECTED"
	StatusTimeout          ExecutionStatus = "TIMEOUT"
	StatusBlocked          ExecutionStatus = "BLOCKED"
)

// Terminal reports whether no further transitions are possible
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusRejected, StatusTimeout, StatusBlocked:
		return true
	default:
		return false
	}
}

// ExecutionType records which route the action took
type ExecutionType string

const (
	ExecutionAutonomous ExecutionType = "AUTONOMOUS"
	ExecutionApproved   ExecutionType = "APPROVED"
	ExecutionRejected   ExecutionType = "REJECTED"
	ExecutionPending    ExecutionType = "PENDING"
)

// ExecutionRecord is the audit trail of one proposal
type ExecutionRecord struct {
	ID                string          `json:"id" db:"id"`
	ActionID          string          `json:"action_id" db:"action_id"`
	Agent             string          `json:"agent" db:"agent"`
	Action            Action          `json:"action" db:"-"`
	RiskLevel         RiskLevel       `json:"risk_level" db:"risk_level"`
	RequiredApprovals []string        `json:"required_approvals" db:"-"`
	Reasons           []string        `json:"reasons" db:"-"`
	Status            ExecutionStatus `json:"status" db:"status"`
	ExecutionType     ExecutionType   `json:"execution_type" db:"execution_type"`
	Result            map[string]any  `json:"result,omitempty" db:"-"`
	Error             string          `json:"error,omitempty" db:"error"`
	ApprovedBy        string          `json:"approved_by,omitempty" db:"approved_by"`
	ApprovalNotes     string          `json:"approval_notes,omitempty" db:"approval_notes"`
	RejectedBy        string          `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectionReason   string          `json:"rejection_reason,omitempty" db:"rejection_reason"`
	Verification      *Verification   `json:"verification,omitempty" db:"-"`
	ProposedAt        time.Time       `json:"proposed_at" db:"proposed_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the record has reached a final state
func (r *ExecutionRecord) IsTerminal() bool {
	return r.Status.Terminal()
}

// KillSwitchState is the activation metadata of the global halt
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
}

// Reactivation records who lifted the kill switch
type Reactivation struct {
	ReactivatedBy string    `json:"reactivated_by"`
	ReactivatedAt time.Time `json:"reactivated_at"`
	Notes         string    `json:"notes,omitempty"`
}
