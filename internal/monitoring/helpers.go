package monitoring

import (
	"context"

	"github.com/rohankatakam/careops/internal/models"
)

// LogProposal broadcasts a freshly proposed action
func LogProposal(ctx context.Context, b Broadcaster, agent string, action models.Action) {
	b.Broadcast(ctx, Event{
		Type:     EventProposal,
		Agent:    agent,
		ActionID: action.ID,
		Status:   "PROPOSED",
		Data: map[string]interface{}{
			"action_type": string(action.Type),
			"reasoning":   action.Reasoning,
			"action":      action,
		},
	})
}

// LogOutcome broadcasts a record transition
func LogOutcome(ctx context.Context, b Broadcaster, rec *models.ExecutionRecord) {
	data := map[string]interface{}{
		"action_type":    string(rec.Action.Type),
		"execution_type": string(rec.ExecutionType),
	}
	if len(rec.Reasons) > 0 {
		data["reasons"] = rec.Reasons
	}
	if len(rec.RequiredApprovals) > 0 {
		data["required_approvals"] = rec.RequiredApprovals
	}
	if rec.Result != nil {
		data["result"] = rec.Result
	}
	if rec.ApprovedBy != "" {
		data["approved_by"] = rec.ApprovedBy
	}
	if rec.RejectedBy != "" {
		data["rejected_by"] = rec.RejectedBy
		data["rejection_reason"] = rec.RejectionReason
	}
	b.Broadcast(ctx, Event{
		Type:      EventStatusUpdate,
		Agent:     rec.Agent,
		ActionID:  rec.ActionID,
		Status:    string(rec.Status),
		RiskLevel: string(rec.RiskLevel),
		Data:      data,
	})
}

// LogError broadcasts a failure
func LogError(ctx context.Context, b Broadcaster, agent, actionID string, err error) {
	b.Broadcast(ctx, Event{
		Type:     EventError,
		Agent:    agent,
		ActionID: actionID,
		Status:   string(models.StatusFailed),
		Data:     map[string]interface{}{"error": err.Error()},
	})
}

// LogVerification broadcasts the deferred check of an executed action
func LogVerification(ctx context.Context, b Broadcaster, agent string, action models.Action, v models.Verification) {
	status := "VERIFIED"
	if !v.Success {
		status = "VERIFICATION_FAILED"
	}
	b.Broadcast(ctx, Event{
		Type:     EventVerification,
		Agent:    agent,
		ActionID: action.ID,
		Status:   status,
		Data: map[string]interface{}{
			"action_type": string(action.Type),
			"success":     v.Success,
			"notes":       v.Notes,
			"metrics":     v.Metrics,
		},
	})
}

// Discard is a Broadcaster that drops everything
type Discard struct{}

func (Discard) Broadcast(context.Context, Event) {}
