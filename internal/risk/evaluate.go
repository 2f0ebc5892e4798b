package risk

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/rohankatakam/careops/internal/models"
)

const (
	reasonWithinLimits = "Action within low-risk parameters"
	reasonKillSwitch   = "Kill switch is active - all autonomous actions blocked"
)

// Built-in tier limits used when a policy omits a maximum
const (
	defaultLowCost      = 50000
	defaultMediumCost   = 200000
	defaultHighCost     = 500000
	defaultLowOvertime  = 20
	defaultMedOvertime  = 40
	defaultLowTemp      = 5
	defaultMedTemp      = 10
	defaultLowRecipient = 2000
	defaultMedRecipient = 5000
	defaultLowValue     = 30000
	defaultMedValue     = 100000
)

// exceeds treats NaN as above every limit so malformed input fails closed
func exceeds(v, limit float64) bool {
	return math.IsNaN(v) || v > limit
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// assessment accumulates triggered rules. The level only ever rises.
type assessment struct {
	level   models.RiskLevel
	reasons []string
}

func (a *assessment) raise(to models.RiskLevel, format string, args ...any) {
	a.level = models.Max(a.level, to)
	a.reasons = append(a.reasons, fmt.Sprintf(format, args...))
}

// KillSwitchEvaluation is the verdict for every action while a halt is in force
func KillSwitchEvaluation() models.RiskEvaluation {
	return models.RiskEvaluation{
		RiskLevel:         models.RiskCritical,
		CanExecute:        false,
		RequiredApprovals: []string{SystemAdministrator},
		Reasons:           []string{reasonKillSwitch},
	}
}

// Evaluate classifies an action against policy. It is pure and total: any
// action, including one with an unrecognised type or an empty payload,
// yields a verdict. A nil policy means DefaultPolicy.
func Evaluate(p *Policy, action models.Action) models.RiskEvaluation {
	if p == nil {
		p = DefaultPolicy()
	}

	if p.GlobalRules.KillSwitchActive {
		return KillSwitchEvaluation()
	}

	rules, ok := p.ActionTypes[action.Type]
	if !ok {
		return models.RiskEvaluation{
			RiskLevel:         models.RiskHigh,
			CanExecute:        false,
			RequiredApprovals: []string{SystemAdministrator},
			Reasons:           []string{fmt.Sprintf("Unknown action type: %s", action.Type)},
		}
	}

	a := &assessment{level: models.RiskLow}
	switch action.Type {
	case models.ActionPurchaseOrder:
		po, ok := action.PurchaseOrder()
		if !ok {
			po = &models.PurchaseOrder{}
		}
		assessPurchaseOrder(a, po, rules)
	case models.ActionStaffingChange:
		sc, ok := action.StaffingChange()
		if !ok {
			sc = &models.StaffingChange{}
		}
		assessStaffingChange(a, sc, rules)
	case models.ActionPatientAdvisory:
		adv, ok := action.PatientAdvisory()
		if !ok {
			adv = &models.PatientAdvisory{}
		}
		assessPatientAdvisory(a, adv, rules)
	case models.ActionInventoryTransfer:
		it, ok := action.InventoryTransfer()
		if !ok {
			it = &models.InventoryTransfer{}
		}
		assessInventoryTransfer(a, it, rules)
	}

	if len(a.reasons) == 0 {
		a.reasons = append(a.reasons, reasonWithinLimits)
	}

	eval := models.RiskEvaluation{
		RiskLevel:         a.level,
		CanExecute:        a.level == models.RiskLow,
		Reasons:           a.reasons,
		RequiredApprovals: []string{},
	}
	if !eval.CanExecute {
		eval.RequiredApprovals = approversFor(action.Type, a.level, rules)
	}
	return eval
}

// RequiredApprovals returns who must sign off an action of typ at level
// under p. Callers that escalate a verdict outside Evaluate use this so the
// approver list stays consistent with the policy.
func RequiredApprovals(p *Policy, typ models.ActionType, level models.RiskLevel) []string {
	if level == models.RiskLow {
		return []string{}
	}
	if p == nil {
		p = DefaultPolicy()
	}
	rules, ok := p.ActionTypes[typ]
	if !ok {
		return []string{SystemAdministrator}
	}
	return approversFor(typ, level, rules)
}

// approversFor reads the matrix for (type, level). A gap in an operator's
// matrix falls back to the built-in matrix, then to the system administrator,
// so a non-executable verdict always names someone.
func approversFor(typ models.ActionType, level models.RiskLevel, rules ActionRules) []string {
	if list := rules.RequiredApprovals[level]; len(list) > 0 {
		return slices.Clone(list)
	}
	if def, ok := DefaultPolicy().ActionTypes[typ]; ok {
		if list := def.RequiredApprovals[level]; len(list) > 0 {
			return slices.Clone(list)
		}
	}
	return []string{SystemAdministrator}
}

func rupees(v float64) string {
	return "₹" + strconv.FormatFloat(v, 'f', -1, 64)
}

func assessPurchaseOrder(a *assessment, po *models.PurchaseOrder, rules ActionRules) {
	low, med, high := rules.LowRiskThreshold, rules.MediumRiskThreshold, rules.HighRiskThreshold

	switch {
	case exceeds(po.Cost, orDefault(high.CostMax, defaultHighCost)):
		a.raise(models.RiskCritical, "Cost exceeds critical threshold: %s", rupees(po.Cost))
	case exceeds(po.Cost, orDefault(med.CostMax, defaultMediumCost)):
		a.raise(models.RiskHigh, "Cost exceeds high threshold: %s", rupees(po.Cost))
	case exceeds(po.Cost, orDefault(low.CostMax, defaultLowCost)):
		a.raise(models.RiskMedium, "Cost exceeds low threshold: %s", rupees(po.Cost))
	}

	if po.Vendor != "" && !slices.Contains(low.VendorWhitelist, po.Vendor) {
		a.raise(models.RiskMedium, "Vendor not in whitelist: %s", po.Vendor)
	}

	if po.ItemCategory != "" && !slices.Contains(low.ItemCategoriesAllowed, po.ItemCategory) {
		a.raise(models.RiskMedium, "Item category not allowed for low-risk: %s", po.ItemCategory)
	}
}

func assessStaffingChange(a *assessment, sc *models.StaffingChange, rules ActionRules) {
	low, med := rules.LowRiskThreshold, rules.MediumRiskThreshold
	overtime, temp := float64(sc.OvertimeHours), float64(sc.TempStaffCount)

	switch {
	case exceeds(overtime, orDefault(med.OvertimeHoursMax, defaultMedOvertime)):
		a.raise(models.RiskHigh, "Overtime hours exceed threshold: %dh", sc.OvertimeHours)
	case exceeds(overtime, orDefault(low.OvertimeHoursMax, defaultLowOvertime)):
		a.raise(models.RiskMedium, "Overtime hours exceed low threshold: %dh", sc.OvertimeHours)
	}

	switch {
	case exceeds(temp, orDefault(med.TempStaffCountMax, defaultMedTemp)):
		a.raise(models.RiskHigh, "Temp staff count exceeds threshold: %d", sc.TempStaffCount)
	case exceeds(temp, orDefault(low.TempStaffCountMax, defaultLowTemp)):
		a.raise(models.RiskMedium, "Temp staff count exceeds low threshold: %d", sc.TempStaffCount)
	}
}

func assessPatientAdvisory(a *assessment, adv *models.PatientAdvisory, rules ActionRules) {
	low, med := rules.LowRiskThreshold, rules.MediumRiskThreshold
	recipients := float64(adv.RecipientCount)

	switch {
	case exceeds(recipients, orDefault(med.RecipientCountMax, defaultMedRecipient)):
		a.raise(models.RiskHigh, "Recipient count exceeds threshold: %d", adv.RecipientCount)
	case exceeds(recipients, orDefault(low.RecipientCountMax, defaultLowRecipient)):
		a.raise(models.RiskMedium, "Recipient count exceeds low threshold: %d", adv.RecipientCount)
	}

	// Only the first forbidden keyword is reported
	message := strings.ToLower(adv.MessageContent)
	for _, kw := range low.ForbiddenKeywords {
		if kw != "" && strings.Contains(message, strings.ToLower(kw)) {
			a.raise(models.RiskHigh, "Message contains forbidden keyword: %s", kw)
			break
		}
	}

	if adv.AdvisoryType != "" && !slices.Contains(low.AdvisoryTypesAllowed, adv.AdvisoryType) {
		a.raise(models.RiskMedium, "Advisory type not in low-risk allowed list: %s", adv.AdvisoryType)
	}
}

func assessInventoryTransfer(a *assessment, it *models.InventoryTransfer, rules ActionRules) {
	low, med := rules.LowRiskThreshold, rules.MediumRiskThreshold

	switch {
	case exceeds(it.Value, orDefault(med.ValueMax, defaultMedValue)):
		a.raise(models.RiskHigh, "Transfer value exceeds threshold: %s", rupees(it.Value))
	case exceeds(it.Value, orDefault(low.ValueMax, defaultLowValue)):
		a.raise(models.RiskMedium, "Transfer value exceeds low threshold: %s", rupees(it.Value))
	}
}
