// Package gate binds the kill switch, risk evaluation and human approval
// into one state machine per proposed action:
//
//	PROPOSED -> BLOCKED                                  (kill switch)
//	         -> EXECUTED | FAILED                        (autonomous)
//	         -> AWAITING_APPROVAL -> EXECUTED | FAILED   (approved)
//	                              -> REJECTED | TIMEOUT
//
// Propose always returns exactly one terminal record and never an error.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/careops/internal/approval"
	"github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/monitoring"
	"github.com/rohankatakam/careops/internal/risk"
	"github.com/rohankatakam/careops/internal/storage"
	"github.com/rohankatakam/careops/internal/verify"
)

// DefaultVerifyDelay applies when the executor does not override it
const DefaultVerifyDelay = 5 * time.Minute

const blockedMessage = "Kill switch is active - action blocked"

// Executor performs the side effect of a cleared action
type Executor interface {
	Execute(ctx context.Context, action models.Action) (map[string]any, error)
}

// Verifier is implemented by executors whose outcomes can be checked later
type Verifier interface {
	Verify(ctx context.Context, action models.Action, result map[string]any) (models.Verification, error)
}

// VerifyDelayer lets an executor override how long to wait before verifying
type VerifyDelayer interface {
	VerifyDelay() time.Duration
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, action models.Action) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, action models.Action) (map[string]any, error) {
	return f(ctx, action)
}

// KillSwitch is the read side of the global halt
type KillSwitch interface {
	IsActive(ctx context.Context) bool
}

// Approvals is the part of the approval coordinator the gate drives
type Approvals interface {
	RegisterPending(ctx context.Context, actionID string, action models.Action) error
	WaitForApproval(ctx context.Context, actionID string, timeout time.Duration) models.ApprovalDecision
	ListPending(ctx context.Context) []models.PendingRecord
}

// Option configures a Gate
type Option func(*Gate)

func WithStore(s storage.Store) Option {
	return func(g *Gate) { g.store = s }
}

func WithBroadcaster(b monitoring.Broadcaster) Option {
	return func(g *Gate) { g.hub = b }
}

// WithScheduler runs deferred verifications; without one they are skipped
func WithScheduler(s *verify.Scheduler) Option {
	return func(g *Gate) { g.verifier = s }
}

// WithVerifyDelay overrides DefaultVerifyDelay
func WithVerifyDelay(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.verifyDelay = d
		}
	}
}

// WithApprovalTimeout overrides the coordinator's default wait
func WithApprovalTimeout(d time.Duration) Option {
	return func(g *Gate) { g.approvalTimeout = d }
}

// Gate is reentrant; concurrent Propose calls are independent
type Gate struct {
	policy    *risk.PolicySource
	kill      KillSwitch
	approvals Approvals

	store           storage.Store
	hub             monitoring.Broadcaster
	verifier        *verify.Scheduler
	budget          *budget
	verifyDelay     time.Duration
	approvalTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// New creates a gate. policy, kill and approvals are required.
func New(policy *risk.PolicySource, kill KillSwitch, approvals Approvals, opts ...Option) *Gate {
	g := &Gate{
		policy:      policy,
		kill:        kill,
		approvals:   approvals,
		store:       storage.NewMemoryStore(),
		hub:         monitoring.Discard{},
		budget:      newBudget(),
		verifyDelay: DefaultVerifyDelay,
		logger:      slog.Default().With("component", "gate"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store exposes the audit store records are written to
func (g *Gate) Store() storage.Store { return g.store }

// Propose runs action through the gate on behalf of agent and returns its
// terminal record. Executor failures, store failures and broadcast failures
// are recorded, never returned.
func (g *Gate) Propose(ctx context.Context, agent string, action models.Action, exec Executor) *models.ExecutionRecord {
	now := g.now()
	rec := &models.ExecutionRecord{
		ID:                uuid.NewString(),
		Agent:             agent,
		Action:            action,
		RequiredApprovals: []string{},
		Reasons:           []string{},
		ProposedAt:        now,
		UpdatedAt:         now,
	}

	monitoring.LogProposal(ctx, g.hub, agent, action)

	if g.kill.IsActive(ctx) {
		eval := risk.KillSwitchEvaluation()
		g.apply(rec, eval)
		rec.Status = models.StatusBlocked
		rec.ExecutionType = models.ExecutionRejected
		rec.Error = blockedMessage
		g.logger.Warn("action blocked by kill switch", "agent", agent, "type", action.Type)
		return g.finish(ctx, rec)
	}

	actionID := approval.GenerateActionID()
	action = action.WithID(actionID)
	rec.Action = action
	rec.ActionID = actionID

	policy := g.policy.Policy()
	eval := risk.Evaluate(policy, action)
	if eval.CanExecute && !g.budget.allow(policy.AutonomousBudget()) {
		eval = escalate(policy, action.Type, eval)
		g.logger.Warn("autonomous budget exhausted, routing to approval",
			"agent", agent, "action_id", actionID, "budget_per_hour", policy.AutonomousBudget())
	}
	g.apply(rec, eval)

	if eval.CanExecute {
		return g.execute(ctx, rec, action, exec, models.ExecutionAutonomous)
	}

	rec.Status = models.StatusAwaitingApproval
	rec.ExecutionType = models.ExecutionPending
	g.save(ctx, rec)
	if err := g.approvals.RegisterPending(ctx, actionID, action); err != nil {
		g.logger.Error("failed to register pending action", "action_id", actionID, "error", err)
	}
	monitoring.LogOutcome(ctx, g.hub, rec)
	g.logger.Info("action requires approval",
		"agent", agent, "action_id", actionID, "type", action.Type,
		"risk_level", eval.RiskLevel, "required_approvals", eval.RequiredApprovals)

	decision := g.approvals.WaitForApproval(ctx, actionID, g.approvalTimeout)

	switch decision.Status {
	case models.ApprovalApproved:
		rec.ApprovedBy = decision.ApprovedBy
		rec.ApprovalNotes = decision.Notes
		approved := action
		if decision.ModifiedAction != nil {
			approved = decision.ModifiedAction.WithID(actionID)
			rec.Action = approved
		}
		return g.execute(ctx, rec, approved, exec, models.ExecutionApproved)

	case models.ApprovalRejected:
		rec.Status = models.StatusRejected
		rec.ExecutionType = models.ExecutionRejected
		rec.RejectedBy = decision.RejectedBy
		rec.RejectionReason = decision.RejectionReason
		g.logger.Info("action rejected", "agent", agent, "action_id", actionID, "reason", decision.RejectionReason)
		return g.finish(ctx, rec)

	default:
		rec.Status = models.StatusTimeout
		rec.ExecutionType = models.ExecutionRejected
		rec.RejectionReason = decision.RejectionReason
		if rec.RejectionReason == "" {
			rec.RejectionReason = "Approval timeout"
		}
		g.logger.Warn("action approval timeout", "agent", agent, "action_id", actionID)
		return g.finish(ctx, rec)
	}
}

func (g *Gate) apply(rec *models.ExecutionRecord, eval models.RiskEvaluation) {
	rec.RiskLevel = eval.RiskLevel
	rec.RequiredApprovals = eval.RequiredApprovals
	rec.Reasons = eval.Reasons
}

// escalate turns an executable verdict into a MEDIUM one needing approval
func escalate(p *risk.Policy, typ models.ActionType, eval models.RiskEvaluation) models.RiskEvaluation {
	reasons := append([]string{}, eval.Reasons...)
	reasons = append(reasons, fmt.Sprintf("Autonomous action budget exhausted (%d per hour)", p.AutonomousBudget()))
	return models.RiskEvaluation{
		RiskLevel:         models.RiskMedium,
		CanExecute:        false,
		RequiredApprovals: risk.RequiredApprovals(p, typ, models.RiskMedium),
		Reasons:           reasons,
	}
}

func (g *Gate) execute(ctx context.Context, rec *models.ExecutionRecord, action models.Action, exec Executor, execType models.ExecutionType) *models.ExecutionRecord {
	rec.ExecutionType = execType

	result, err := g.safeExecute(ctx, action, exec)
	if err != nil {
		rec.Status = models.StatusFailed
		rec.Error = err.Error()
		g.logger.Error("action failed", "agent", rec.Agent, "action_id", rec.ActionID, "execution_type", execType, "error", err)
		monitoring.LogError(ctx, g.hub, rec.Agent, rec.ActionID, err)
		return g.finish(ctx, rec)
	}

	rec.Status = models.StatusExecuted
	rec.Result = result
	g.logger.Info("action executed", "agent", rec.Agent, "action_id", rec.ActionID, "type", action.Type, "execution_type", execType)
	out := g.finish(ctx, rec)
	g.scheduleVerification(rec, action, exec)
	return out
}

func (g *Gate) safeExecute(ctx context.Context, action models.Action, exec Executor) (result map[string]any, err error) {
	if exec == nil {
		return nil, errors.ExecutionError(fmt.Errorf("no executor for %s", action.Type), "action execution failed")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.ExecutionError(fmt.Errorf("executor panicked: %v", r), "action execution failed")
		}
	}()
	return exec.Execute(ctx, action)
}

func (g *Gate) scheduleVerification(rec *models.ExecutionRecord, action models.Action, exec Executor) {
	v, ok := exec.(Verifier)
	if !ok || g.verifier == nil {
		return
	}
	delay := g.verifyDelay
	if d, ok := exec.(VerifyDelayer); ok && d.VerifyDelay() > 0 {
		delay = d.VerifyDelay()
	}

	result := rec.Result
	recordID := rec.ID
	g.verifier.Schedule(verify.Task{
		Agent:  rec.Agent,
		Action: action,
		Delay:  delay,
		Check: func(ctx context.Context) (models.Verification, error) {
			ver, err := v.Verify(ctx, action, result)
			if err != nil {
				return ver, err
			}
			g.recordVerification(ctx, recordID, ver)
			return ver, nil
		},
	})
}

// recordVerification attaches the outcome to the stored record and broadcasts it
func (g *Gate) recordVerification(ctx context.Context, recordID string, ver models.Verification) {
	if ver.VerifiedAt.IsZero() {
		ver.VerifiedAt = g.now()
	}
	rec, err := g.store.GetExecution(ctx, recordID)
	if err != nil {
		g.logger.Warn("verified record not found", "record_id", recordID, "error", err)
		return
	}
	rec.Verification = &ver
	rec.UpdatedAt = g.now()
	if err := g.store.SaveExecution(ctx, rec); err != nil {
		g.logger.Warn("failed to store verification", "record_id", recordID, "error", err)
	}
	monitoring.LogVerification(ctx, g.hub, rec.Agent, rec.Action, ver)
}

// finish stamps a terminal record, persists it and broadcasts the outcome
func (g *Gate) finish(ctx context.Context, rec *models.ExecutionRecord) *models.ExecutionRecord {
	now := g.now()
	rec.UpdatedAt = now
	rec.CompletedAt = &now

	g.save(ctx, rec)
	if err := g.store.AppendHistory(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Error("failed to append execution history", "action_id", rec.ActionID, "error", err)
	}
	monitoring.LogOutcome(ctx, g.hub, rec)
	return rec
}

func (g *Gate) save(ctx context.Context, rec *models.ExecutionRecord) {
	rec.UpdatedAt = g.now()
	if err := g.store.SaveExecution(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Error("failed to save execution record", "action_id", rec.ActionID, "status", rec.Status, "error", err)
	}
}
