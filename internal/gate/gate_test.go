package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/careops/internal/approval"
	"github.com/rohankatakam/careops/internal/killswitch"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/monitoring"
	"github.com/rohankatakam/careops/internal/risk"
	"github.com/rohankatakam/careops/internal/storage"
	"github.com/rohankatakam/careops/internal/verify"
)

type fixture struct {
	gate      *Gate
	kill      *killswitch.Switch
	approvals *approval.Coordinator
	hub       *monitoring.Hub
	store     *storage.MemoryStore
}

func newFixture(t *testing.T, policy *risk.Policy, opts ...Option) *fixture {
	t.Helper()
	if policy == nil {
		policy = risk.DefaultPolicy()
	}
	f := &fixture{
		kill:      killswitch.New(nil),
		approvals: approval.NewCoordinator(nil, approval.WithTimeout(5*time.Second), approval.WithPollInterval(20*time.Millisecond)),
		hub:       monitoring.NewHub(),
		store:     storage.NewMemoryStore(),
	}
	opts = append([]Option{WithStore(f.store), WithBroadcaster(f.hub)}, opts...)
	f.gate = New(risk.StaticPolicySource(policy), f.kill, f.approvals, opts...)
	return f
}

// awaitPending returns the id of the first action waiting for approval
func (f *fixture) awaitPending(t *testing.T) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		pending := f.approvals.ListPending(context.Background())
		if len(pending) == 0 {
			return false
		}
		id = pending[0].ActionID
		return true
	}, 3*time.Second, 5*time.Millisecond)
	return id
}

type recordingExecutor struct {
	mu      sync.Mutex
	actions []models.Action
	err     error
	result  map[string]any
}

func (e *recordingExecutor) Execute(_ context.Context, a models.Action) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = append(e.actions, a)
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return map[string]any{"order_id": "PO-" + a.ID}, nil
}

func (e *recordingExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actions)
}

type verifyingExecutor struct {
	recordingExecutor
	delay time.Duration
}

func (e *verifyingExecutor) Verify(_ context.Context, _ models.Action, result map[string]any) (models.Verification, error) {
	return models.Verification{Success: true, Notes: "delivered", Metrics: map[string]any{"order": result["order_id"]}}, nil
}

func (e *verifyingExecutor) VerifyDelay() time.Duration { return e.delay }

func purchase(cost float64) models.Action {
	return models.NewAction(&models.PurchaseOrder{
		Item: "oxygen_cylinders", ItemCategory: "medical_supplies", Quantity: 50, Cost: cost, Vendor: "vendor_a",
	}, "projected surge")
}

func TestLowRiskExecutesAutonomously(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{}

	rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)

	assert.Equal(t, models.StatusExecuted, rec.Status)
	assert.Equal(t, models.ExecutionAutonomous, rec.ExecutionType)
	assert.Equal(t, models.RiskLow, rec.RiskLevel)
	assert.Empty(t, rec.RequiredApprovals)
	assert.Regexp(t, `^action_[0-9a-f]{32}$`, rec.ActionID)
	assert.Equal(t, rec.ActionID, rec.Action.ID)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.IsTerminal())

	require.Equal(t, 1, exec.calls())
	assert.Equal(t, rec.ActionID, exec.actions[0].ID)
	assert.Equal(t, "PO-"+rec.ActionID, rec.Result["order_id"])

	stored, err := f.store.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, stored.Status)

	history, err := f.store.ListHistory(ctx, storage.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	events := f.hub.Recent(0)
	require.Len(t, events, 2)
	assert.Equal(t, monitoring.EventStatusUpdate, events[0].Type)
	assert.Equal(t, "EXECUTED", events[0].Status)
	assert.Equal(t, monitoring.EventProposal, events[1].Type)
}

func TestHighCostWaitsForApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{}

	done := make(chan *models.ExecutionRecord, 1)
	go func() { done <- f.gate.Propose(ctx, "Quartermaster", purchase(300000), exec) }()

	id := f.awaitPending(t)
	stored, err := f.store.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingApproval, stored.Status)
	assert.Equal(t, models.ExecutionPending, stored.ExecutionType)
	assert.Contains(t, []models.RiskLevel{models.RiskHigh, models.RiskCritical}, stored.RiskLevel)
	assert.Equal(t, 0, exec.calls())

	_, err = f.approvals.Approve(ctx, id, "cfo", "surge confirmed", nil)
	require.NoError(t, err)

	rec := <-done
	assert.Equal(t, models.StatusExecuted, rec.Status)
	assert.Equal(t, models.ExecutionApproved, rec.ExecutionType)
	assert.Equal(t, "cfo", rec.ApprovedBy)
	assert.Equal(t, "surge confirmed", rec.ApprovalNotes)
	assert.Equal(t, 1, exec.calls())
}

func TestApprovedModificationIsExecuted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{}

	done := make(chan *models.ExecutionRecord, 1)
	go func() { done <- f.gate.Propose(ctx, "Quartermaster", purchase(300000), exec) }()

	id := f.awaitPending(t)
	smaller := purchase(120000)
	_, err := f.approvals.Approve(ctx, id, "cfo", "reduce quantity", &smaller)
	require.NoError(t, err)

	rec := <-done
	require.Equal(t, models.StatusExecuted, rec.Status)
	po, ok := exec.actions[0].PurchaseOrder()
	require.True(t, ok)
	assert.Equal(t, 120000.0, po.Cost)
	assert.Equal(t, id, exec.actions[0].ID)
	recPO, _ := rec.Action.PurchaseOrder()
	assert.Equal(t, 120000.0, recPO.Cost)
}

func TestUnknownTypeTimesOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithApprovalTimeout(100*time.Millisecond))
	exec := &recordingExecutor{}

	action := models.ActionFromMap(map[string]any{"type": "FOO_BAR", "reasoning": "?"})
	start := time.Now()
	rec := f.gate.Propose(ctx, "Quartermaster", action, exec)

	assert.Equal(t, models.StatusTimeout, rec.Status)
	assert.Equal(t, models.ExecutionRejected, rec.ExecutionType)
	assert.Equal(t, models.RiskHigh, rec.RiskLevel)
	assert.Equal(t, []string{risk.SystemAdministrator}, rec.RequiredApprovals)
	assert.NotEmpty(t, rec.RejectionReason)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, exec.calls())
}

func TestKillSwitchBlocksBeforeEvaluation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.kill.Activate(ctx, "Test emergency", "test_user")
	require.NoError(t, err)
	exec := &recordingExecutor{}

	rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)

	assert.Equal(t, models.StatusBlocked, rec.Status)
	assert.Equal(t, models.ExecutionRejected, rec.ExecutionType)
	assert.Empty(t, rec.ActionID, "no id is assigned to a blocked proposal")
	assert.Contains(t, rec.Error, "Kill switch")
	assert.Contains(t, rec.Reasons[0], "Kill switch")
	assert.Equal(t, 0, exec.calls())
	assert.Empty(t, f.approvals.ListPending(ctx))

	st, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Blocked)
}

func TestRejectionIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{}

	done := make(chan *models.ExecutionRecord, 1)
	go func() { done <- f.gate.Propose(ctx, "Quartermaster", purchase(300000), exec) }()

	id := f.awaitPending(t)
	_, err := f.approvals.Reject(ctx, id, "cfo", "budget")
	require.NoError(t, err)

	rec := <-done
	assert.Equal(t, models.StatusRejected, rec.Status)
	assert.Equal(t, models.ExecutionRejected, rec.ExecutionType)
	assert.Equal(t, "budget", rec.RejectionReason)
	assert.Equal(t, "cfo", rec.RejectedBy)
	assert.Equal(t, 0, exec.calls())
}

func TestExecutorFailureIsRecordedNotReturned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{err: errors.New("supplier API unavailable")}

	rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)

	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.ExecutionAutonomous, rec.ExecutionType)
	assert.Contains(t, rec.Error, "supplier API unavailable")

	var sawError bool
	for _, ev := range f.hub.Recent(0) {
		if ev.Type == monitoring.EventError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestApprovedExecutorFailureKeepsApprovedType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	exec := &recordingExecutor{err: errors.New("hr system offline")}

	done := make(chan *models.ExecutionRecord, 1)
	go func() { done <- f.gate.Propose(ctx, "Quartermaster", purchase(300000), exec) }()
	_, err := f.approvals.Approve(ctx, f.awaitPending(t), "cfo", "", nil)
	require.NoError(t, err)

	rec := <-done
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, models.ExecutionApproved, rec.ExecutionType)
	assert.Equal(t, "cfo", rec.ApprovedBy)
}

func TestExecutorPanicBecomesFailure(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.gate.Propose(context.Background(), "Quartermaster", purchase(30000),
		ExecutorFunc(func(context.Context, models.Action) (map[string]any, error) { panic("nil supplier") }))

	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "panicked")
}

func TestNilExecutorFails(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.gate.Propose(context.Background(), "Quartermaster", purchase(30000), nil)
	assert.Equal(t, models.StatusFailed, rec.Status)
}

func TestVerificationIsDeferredAndRecorded(t *testing.T) {
	ctx := context.Background()
	sched := verify.NewScheduler()
	defer sched.Stop()
	f := newFixture(t, nil, WithScheduler(sched))
	events, cancel := f.hub.Subscribe(16)
	defer cancel()

	exec := &verifyingExecutor{delay: 30 * time.Millisecond}
	rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)
	require.Equal(t, models.StatusExecuted, rec.Status)
	assert.Nil(t, rec.Verification, "verification never blocks the execution return")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != monitoring.EventVerification {
				continue
			}
			assert.Equal(t, "VERIFIED", ev.Status)
			stored, err := f.store.GetExecution(ctx, rec.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.Verification)
			assert.True(t, stored.Verification.Success)
			return
		case <-deadline:
			t.Fatal("verification never ran")
		}
	}
}

func TestAutonomousBudgetEscalates(t *testing.T) {
	ctx := context.Background()
	p := risk.DefaultPolicy()
	p.GlobalRules.MaxAutonomousActionsPerHour = 2
	f := newFixture(t, p, WithApprovalTimeout(50*time.Millisecond))
	exec := &recordingExecutor{}

	for i := 0; i < 2; i++ {
		rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)
		require.Equal(t, models.StatusExecuted, rec.Status)
	}

	rec := f.gate.Propose(ctx, "Quartermaster", purchase(30000), exec)
	assert.Equal(t, models.StatusTimeout, rec.Status)
	assert.Equal(t, models.RiskMedium, rec.RiskLevel)
	assert.Equal(t, []string{"procurement_manager"}, rec.RequiredApprovals)
	assert.Contains(t, rec.Reasons[len(rec.Reasons)-1], "budget exhausted")
	assert.Equal(t, 2, exec.calls())
}

func TestPolicyKillFlagRoutesToAdministrator(t *testing.T) {
	p := risk.DefaultPolicy()
	p.GlobalRules.KillSwitchActive = true
	f := newFixture(t, p, WithApprovalTimeout(30*time.Millisecond))

	rec := f.gate.Propose(context.Background(), "Quartermaster", purchase(100), &recordingExecutor{})
	assert.Equal(t, models.RiskCritical, rec.RiskLevel)
	assert.Equal(t, []string{risk.SystemAdministrator}, rec.RequiredApprovals)
	assert.Equal(t, models.StatusTimeout, rec.Status)
}

func TestConcurrentProposalsEachTerminate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithApprovalTimeout(50*time.Millisecond))
	exec := &recordingExecutor{}

	var wg sync.WaitGroup
	var terminal atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cost := 30000.0
			if i%2 == 1 {
				cost = 300000
			}
			if f.gate.Propose(ctx, "Quartermaster", purchase(cost), exec).IsTerminal() {
				terminal.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), terminal.Load())
	history, err := f.store.ListHistory(ctx, storage.HistoryFilter{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestCancelledContextTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := f.gate.Propose(ctx, "Quartermaster", purchase(300000), &recordingExecutor{})
	assert.Equal(t, models.StatusTimeout, rec.Status)

	// the terminal record is persisted even though ctx is done
	stored, err := f.store.GetExecution(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTimeout, stored.Status)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithApprovalTimeout(30*time.Millisecond))
	f.gate.Propose(ctx, "Quartermaster", purchase(30000), &recordingExecutor{})
	f.gate.Propose(ctx, "Quartermaster", purchase(300000), &recordingExecutor{})

	st, err := f.gate.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Autonomous)
	assert.Equal(t, 1, st.TimedOut)
	assert.Equal(t, 1, st.PendingApprovals, "timed-out entries stay listed until their TTL")
	assert.False(t, st.KillSwitchActive)
	assert.Equal(t, "defaults", st.PolicyVersion)
}
