package risk

import (
	"fmt"

	"github.com/rohankatakam/careops/internal/models"
)

// Thresholds holds the limits of one risk tier. Nil maxima fall back to the
// built-in values for that tier; absent lists are empty.
type Thresholds struct {
	CostMax                *float64 `yaml:"cost_max,omitempty" json:"cost_max,omitempty"`
	VendorWhitelist        []string `yaml:"vendor_whitelist,omitempty" json:"vendor_whitelist,omitempty"`
	ItemCategoriesAllowed  []string `yaml:"item_categories_allowed,omitempty" json:"item_categories_allowed,omitempty"`
	OvertimeHoursMax       *float64 `yaml:"overtime_hours_max,omitempty" json:"overtime_hours_max,omitempty"`
	TempStaffCountMax      *float64 `yaml:"temp_staff_count_max,omitempty" json:"temp_staff_count_max,omitempty"`
	RecipientCountMax      *float64 `yaml:"recipient_count_max,omitempty" json:"recipient_count_max,omitempty"`
	ForbiddenKeywords      []string `yaml:"forbidden_keywords,omitempty" json:"forbidden_keywords,omitempty"`
	AdvisoryTypesAllowed   []string `yaml:"advisory_types_allowed,omitempty" json:"advisory_types_allowed,omitempty"`
	ValueMax               *float64 `yaml:"value_max,omitempty" json:"value_max,omitempty"`
	DepartmentRestrictions []string `yaml:"department_restrictions,omitempty" json:"department_restrictions,omitempty"`
}

// ActionRules are the tiers and approval matrix for one action type
type ActionRules struct {
	LowRiskThreshold    Thresholds                    `yaml:"low_risk_threshold" json:"low_risk_threshold"`
	MediumRiskThreshold Thresholds                    `yaml:"medium_risk_threshold" json:"medium_risk_threshold"`
	HighRiskThreshold   Thresholds                    `yaml:"high_risk_threshold" json:"high_risk_threshold"`
	RequiredApprovals   map[models.RiskLevel][]string `yaml:"required_approvals" json:"required_approvals"`
}

// GlobalRules apply to every action type
type GlobalRules struct {
	KillSwitchActive bool `yaml:"kill_switch_active" json:"kill_switch_active"`
	// MaxAutonomousActionsPerHour caps autonomous executions. 0 means the
	// default of 50; a negative value disables the cap.
	MaxAutonomousActionsPerHour int  `yaml:"max_autonomous_actions_per_hour" json:"max_autonomous_actions_per_hour"`
	EmergencyOverride           bool `yaml:"emergency_override" json:"emergency_override"`
}

// Policy is the trust boundary configuration
type Policy struct {
	ActionTypes map[models.ActionType]ActionRules `yaml:"action_types" json:"action_types"`
	GlobalRules GlobalRules                       `yaml:"global_rules" json:"global_rules"`
}

const (
	DefaultMaxAutonomousPerHour = 50

	// SystemAdministrator approves anything the matrix cannot place
	SystemAdministrator = "system_administrator"
)

// AutonomousBudget returns the hourly cap, or 0 when uncapped
func (p *Policy) AutonomousBudget() int {
	switch n := p.GlobalRules.MaxAutonomousActionsPerHour; {
	case n < 0:
		return 0
	case n == 0:
		return DefaultMaxAutonomousPerHour
	default:
		return n
	}
}

// Validate rejects policies an operator almost certainly mistyped
func (p *Policy) Validate() error {
	for typ, rules := range p.ActionTypes {
		for lvl, approvers := range rules.RequiredApprovals {
			if !lvl.Valid() {
				return fmt.Errorf("%s: unknown risk level %q in required_approvals", typ, lvl)
			}
			if lvl != models.RiskLow && len(approvers) == 0 {
				return fmt.Errorf("%s: %s requires at least one approver", typ, lvl)
			}
		}
		tiers := map[string]Thresholds{
			"low_risk_threshold":    rules.LowRiskThreshold,
			"medium_risk_threshold": rules.MediumRiskThreshold,
			"high_risk_threshold":   rules.HighRiskThreshold,
		}
		for name, t := range tiers {
			limits := map[string]*float64{
				"cost_max":             t.CostMax,
				"overtime_hours_max":   t.OvertimeHoursMax,
				"temp_staff_count_max": t.TempStaffCountMax,
				"recipient_count_max":  t.RecipientCountMax,
				"value_max":            t.ValueMax,
			}
			for field, v := range limits {
				if v != nil && *v < 0 {
					return fmt.Errorf("%s.%s.%s must not be negative", typ, name, field)
				}
			}
		}
	}
	return nil
}

func limit(v float64) *float64 { return &v }

// DefaultPolicy is used when no policy file exists or it cannot be parsed
func DefaultPolicy() *Policy {
	return &Policy{
		ActionTypes: map[models.ActionType]ActionRules{
			models.ActionPurchaseOrder: {
				LowRiskThreshold: Thresholds{
					CostMax:               limit(50000),
					VendorWhitelist:       []string{"vendor_a", "vendor_b", "vendor_c"},
					ItemCategoriesAllowed: []string{"medical_supplies", "consumables"},
				},
				MediumRiskThreshold: Thresholds{
					CostMax:               limit(200000),
					VendorWhitelist:       []string{"vendor_a", "vendor_b", "vendor_c", "vendor_d"},
					ItemCategoriesAllowed: []string{"medical_supplies", "consumables", "equipment"},
				},
				HighRiskThreshold: Thresholds{
					CostMax: limit(500000),
				},
				RequiredApprovals: map[models.RiskLevel][]string{
					models.RiskLow:      {},
					models.RiskMedium:   {"procurement_manager"},
					models.RiskHigh:     {"procurement_manager", "finance_manager"},
					models.RiskCritical: {"procurement_manager", "finance_manager", "cmo"},
				},
			},
			models.ActionStaffingChange: {
				LowRiskThreshold: Thresholds{
					OvertimeHoursMax:  limit(20),
					TempStaffCountMax: limit(5),
				},
				MediumRiskThreshold: Thresholds{
					OvertimeHoursMax:  limit(40),
					TempStaffCountMax: limit(10),
				},
				RequiredApprovals: map[models.RiskLevel][]string{
					models.RiskLow:      {},
					models.RiskMedium:   {"hr_manager"},
					models.RiskHigh:     {"hr_manager", "department_head"},
					models.RiskCritical: {"hr_manager", "department_head", "cmo"},
				},
			},
			models.ActionPatientAdvisory: {
				LowRiskThreshold: Thresholds{
					RecipientCountMax:    limit(2000),
					ForbiddenKeywords:    []string{"prescription", "medication", "dosage"},
					AdvisoryTypesAllowed: []string{"pollution_alert", "surge_warning"},
				},
				MediumRiskThreshold: Thresholds{
					RecipientCountMax:    limit(5000),
					AdvisoryTypesAllowed: []string{"pollution_alert", "surge_warning", "epidemic_alert"},
				},
				RequiredApprovals: map[models.RiskLevel][]string{
					models.RiskLow:      {},
					models.RiskMedium:   {"communications_manager"},
					models.RiskHigh:     {"communications_manager", "cmo"},
					models.RiskCritical: {"communications_manager", "cmo", "legal"},
				},
			},
			models.ActionInventoryTransfer: {
				LowRiskThreshold: Thresholds{
					ValueMax: limit(30000),
				},
				MediumRiskThreshold: Thresholds{
					ValueMax: limit(100000),
				},
				RequiredApprovals: map[models.RiskLevel][]string{
					models.RiskLow:      {},
					models.RiskMedium:   {"inventory_manager"},
					models.RiskHigh:     {"inventory_manager", "department_head"},
					models.RiskCritical: {"inventory_manager", "department_head", "cmo"},
				},
			},
		},
		GlobalRules: GlobalRules{
			MaxAutonomousActionsPerHour: DefaultMaxAutonomousPerHour,
		},
	}
}
