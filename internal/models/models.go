package models

import (
	"strings"
	"time"
)

// RiskLevel represents the risk severity of a proposed action
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevels lists every tier in ascending order
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether r is one of the four known tiers
func (r RiskLevel) Valid() bool {
	return r.rank() >= 0
}

// Less reports whether r is strictly lower than other
func (r RiskLevel) Less(other RiskLevel) bool {
	return r.rank() < other.rank()
}

// Max returns the higher of two levels
func Max(a, b RiskLevel) RiskLevel {
	if a.Less(b) {
		return b
	}
	return a
}

// ParseRiskLevel is case-insensitive; unknown strings map to HIGH so a
// corrupted record can never read back as autonomous.
func ParseRiskLevel(s string) RiskLevel {
	lvl := RiskLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !lvl.Valid() {
		return RiskHigh
	}
	return lvl
}

// RiskEvaluation is the verdict for a single action
type RiskEvaluation struct {
	RiskLevel         RiskLevel `json:"risk_level"`
	CanExecute        bool      `json:"can_execute"`
	RequiredApprovals []string  `json:"required_approvals"`
	Reasons           []string  `json:"reasons"`
}

// ExecutionType for the record; follows the approval route taken
func (e RiskEvaluation) ExecutionType() ExecutionType {
	if e.CanExecute {
		return ExecutionAutonomous
	}
	return ExecutionPending
}

// Verification is the deferred real-world outcome check of an executed action
type Verification struct {
	Success    bool           `json:"success"`
	Notes      string         `json:"notes"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	VerifiedAt time.Time      `json:"verified_at"`
}
