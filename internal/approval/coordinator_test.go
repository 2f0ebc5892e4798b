package approval

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/careops/internal/audit"
	"github.com/rohankatakam/careops/internal/cache"
	"github.com/rohankatakam/careops/internal/models"
)

func order(cost float64) models.Action {
	return models.NewAction(&models.PurchaseOrder{
		Item: "oxygen_cylinders", ItemCategory: "medical_supplies", Quantity: 50, Cost: cost, Vendor: "vendor_a",
	}, "projected surge")
}

// pollOnly hides the PubSub capability so waiters must poll
type pollOnly struct{ cache.Store }

type downStore struct{}

var errDown = errors.New("connection refused")

func (downStore) Get(context.Context, string, interface{}) (bool, error)           { return false, errDown }
func (downStore) SetWithTTL(context.Context, string, interface{}, time.Duration) error { return errDown }
func (downStore) Delete(context.Context, string) error                             { return errDown }
func (downStore) Keys(context.Context, string) ([]string, error)                   { return nil, errDown }
func (downStore) Close() error                                                     { return nil }

func TestGenerateActionID(t *testing.T) {
	re := regexp.MustCompile(`^action_[0-9a-f]{32}$`)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateActionID()
		assert.Regexp(t, re, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestUnknownIDIsPending(t *testing.T) {
	c := NewCoordinator(nil)
	d := c.GetDecision(context.Background(), "action_missing")
	assert.Equal(t, models.ApprovalPending, d.Status)
}

func TestRegisterApproveLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(cache.NewMemoryStore())
	id := GenerateActionID()

	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))
	assert.Equal(t, models.ApprovalPending, c.GetDecision(ctx, id).Status)

	pending := c.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ActionID)
	assert.Equal(t, id, pending[0].Action.ID)
	po, ok := pending[0].Action.PurchaseOrder()
	require.True(t, ok)
	assert.Equal(t, 300000.0, po.Cost)

	d, err := c.Approve(ctx, id, "cfo", "ok for surge", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, d.Status)
	require.NotNil(t, d.ApprovedAt)

	got := c.GetDecision(ctx, id)
	assert.Equal(t, models.ApprovalApproved, got.Status)
	assert.Equal(t, "cfo", got.ApprovedBy)
	assert.Equal(t, "ok for surge", got.Notes)
	assert.Empty(t, c.ListPending(ctx))
	_, stillPending := c.GetPending(ctx, id)
	assert.False(t, stillPending)
}

func TestApproveIsIdempotentLastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(100000)))

	_, err := c.Approve(ctx, id, "procurement_manager", "", nil)
	require.NoError(t, err)
	_, err = c.Approve(ctx, id, "finance_manager", "second look", nil)
	require.NoError(t, err)

	d := c.GetDecision(ctx, id)
	assert.Equal(t, models.ApprovalApproved, d.Status)
	assert.Equal(t, "finance_manager", d.ApprovedBy)
}

func TestRejectWithReason(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))

	_, err := c.Reject(ctx, id, "cfo", "budget")
	require.NoError(t, err)

	d := c.GetDecision(ctx, id)
	assert.Equal(t, models.ApprovalRejected, d.Status)
	assert.Equal(t, "budget", d.RejectionReason)
	assert.Equal(t, "cfo", d.RejectedBy)
	assert.Empty(t, c.ListPending(ctx))
}

func TestApproveWithModifiedAction(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))

	smaller := order(150000)
	_, err := c.Approve(ctx, id, "cfo", "halve it", &smaller)
	require.NoError(t, err)

	d := c.GetDecision(ctx, id)
	require.NotNil(t, d.ModifiedAction)
	assert.Equal(t, id, d.ModifiedAction.ID)
	po, ok := d.ModifiedAction.PurchaseOrder()
	require.True(t, ok)
	assert.Equal(t, 150000.0, po.Cost)
}

func TestEmptyIDRejected(t *testing.T) {
	c := NewCoordinator(nil)
	_, err := c.Approve(context.Background(), "", "cfo", "", nil)
	require.Error(t, err)
	require.Error(t, c.RegisterPending(context.Background(), "", order(1)))
}

func TestWaitWakesOnDecision(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil, WithPollInterval(time.Minute))
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = c.Approve(ctx, id, "cfo", "", nil)
	}()

	start := time.Now()
	d := c.WaitForApproval(ctx, id, 10*time.Second)
	assert.Equal(t, models.ApprovalApproved, d.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitReturnsExistingDecision(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)
	id := GenerateActionID()
	_, err := c.Reject(ctx, id, "cfo", "budget")
	require.NoError(t, err)

	d := c.WaitForApproval(ctx, id, time.Second)
	assert.Equal(t, models.ApprovalRejected, d.Status)
}

func TestWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	poll := 20 * time.Millisecond
	timeout := 100 * time.Millisecond
	c := NewCoordinator(nil, WithPollInterval(poll))
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))

	start := time.Now()
	d := c.WaitForApproval(ctx, id, timeout)
	elapsed := time.Since(start)

	assert.Equal(t, models.ApprovalTimeout, d.Status)
	assert.NotEmpty(t, d.RejectionReason)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+poll+200*time.Millisecond)

	// timeout is synthesised, never stored
	assert.Equal(t, models.ApprovalPending, c.GetDecision(ctx, id).Status)
}

func TestWaitHonoursCancellation(t *testing.T) {
	c := NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	d := c.WaitForApproval(ctx, GenerateActionID(), time.Minute)
	assert.Equal(t, models.ApprovalTimeout, d.Status)
	assert.Contains(t, d.RejectionReason, "cancel")
}

func TestWaitPollsWithoutPubSub(t *testing.T) {
	ctx := context.Background()
	shared := pollOnly{cache.NewMemoryStore()}
	waiter := NewCoordinator(shared, WithPollInterval(20*time.Millisecond))
	approver := NewCoordinator(shared)
	id := GenerateActionID()
	require.NoError(t, waiter.RegisterPending(ctx, id, order(300000)))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = approver.Approve(ctx, id, "cfo", "", nil)
	}()

	d := waiter.WaitForApproval(ctx, id, 5*time.Second)
	assert.Equal(t, models.ApprovalApproved, d.Status)
}

func TestRedisSharedAcrossCoordinators(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newClient := func() *cache.RedisClient {
		c := cache.WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		t.Cleanup(func() { c.Close() })
		return c
	}

	timeout := 30 * time.Second
	waiter := NewCoordinator(newClient(), WithTimeout(timeout), WithPollInterval(time.Minute))
	approver := NewCoordinator(newClient(), WithTimeout(timeout))
	id := GenerateActionID()
	require.NoError(t, waiter.RegisterPending(ctx, id, order(300000)))
	assert.Equal(t, 2*timeout, mr.TTL(pendingPrefix+id))

	require.Len(t, approver.ListPending(ctx), 1)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = approver.Reject(ctx, id, "cfo", "budget")
	}()

	start := time.Now()
	d := waiter.WaitForApproval(ctx, id, 0)
	assert.Equal(t, models.ApprovalRejected, d.Status)
	assert.Less(t, time.Since(start), 5*time.Second, "pub/sub wake-up, not the poll interval")
	assert.Equal(t, 2*timeout, mr.TTL(decisionPrefix+id))
	assert.False(t, mr.Exists(pendingPrefix+id))
}

func TestListPendingSkipsDecided(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c := NewCoordinator(store)

	a, b := GenerateActionID(), GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, a, order(100000)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.RegisterPending(ctx, b, order(200000)))

	// a decision written by another process that failed to clear pending
	require.NoError(t, store.SetWithTTL(ctx, decisionPrefix+a, models.ApprovalDecision{Status: models.ApprovalApproved}, time.Minute))

	pending := c.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, b, pending[0].ActionID)
}

func TestConcurrentDecisionsNeverBlend(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)
	id := GenerateActionID()
	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = c.Approve(ctx, id, "cfo", "", nil)
			} else {
				_, _ = c.Reject(ctx, id, "cfo", "budget")
			}
		}(i)
	}
	wg.Wait()

	d := c.GetDecision(ctx, id)
	switch d.Status {
	case models.ApprovalApproved:
		assert.Empty(t, d.RejectedBy)
		assert.Empty(t, d.RejectionReason)
	case models.ApprovalRejected:
		assert.Empty(t, d.ApprovedBy)
		assert.Nil(t, d.ApprovedAt)
	default:
		t.Fatalf("unexpected status %s", d.Status)
	}
	assert.Empty(t, c.ListPending(ctx))
}

func TestDegradesToLocalStore(t *testing.T) {
	ctx := context.Background()
	store := cache.NewFallback(downStore{}, cache.NewMemoryStore())
	c := NewCoordinator(store, WithPollInterval(time.Minute))
	id := GenerateActionID()

	require.NoError(t, c.RegisterPending(ctx, id, order(300000)))
	assert.True(t, store.Degraded())
	require.Len(t, c.ListPending(ctx), 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = c.Approve(ctx, id, "cfo", "", nil)
	}()
	assert.Equal(t, models.ApprovalApproved, c.WaitForApproval(ctx, id, 5*time.Second).Status)
}

func TestDecisionsAreAudited(t *testing.T) {
	ctx := context.Background()
	log := audit.NewLog(filepath.Join(t.TempDir(), "interventions.jsonl"))
	c := NewCoordinator(nil, WithAuditor(log))

	modified := order(1000)
	_, err := c.Approve(ctx, "action_a", "cfo", "", nil)
	require.NoError(t, err)
	_, err = c.Approve(ctx, "action_b", "cfo", "trimmed", &modified)
	require.NoError(t, err)
	_, err = c.Reject(ctx, "action_c", "cfo", "budget")
	require.NoError(t, err)

	all, err := log.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, audit.ActionApproved, all[0].Kind)
	assert.Equal(t, audit.ActionApprovedChanged, all[1].Kind)
	assert.Equal(t, audit.ActionRejected, all[2].Kind)
	assert.Equal(t, "action_c", all[2].ActionID)
}
