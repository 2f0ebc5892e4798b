// Package approval tracks actions awaiting a human decision and lets the
// gate block until an approver acts or the timeout passes.
package approval

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/careops/internal/audit"
	"github.com/rohankatakam/careops/internal/cache"
	"github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/monitoring"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = 2 * time.Second

	decisionPrefix  = "approval:"
	pendingPrefix   = "pending:"
	decisionChannel = "approval:decisions"

	timeoutReason = "Approval timeout - no response within time limit"

	lockStripes = 64
)

// Option configures a Coordinator
type Option func(*Coordinator)

// WithTimeout sets the default wait and derives the key TTL (twice the timeout)
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPollInterval sets how often waiters re-read the store
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.poll = d
		}
	}
}

func WithBroadcaster(b monitoring.Broadcaster) Option {
	return func(c *Coordinator) { c.notify = b }
}

func WithAuditor(r audit.Recorder) Option {
	return func(c *Coordinator) { c.audit = r }
}

// Coordinator owns pending records and decisions. Decisions and pending
// entries expire after twice the approval timeout.
type Coordinator struct {
	store   cache.Store
	pubsub  cache.PubSub
	timeout time.Duration
	poll    time.Duration
	notify  monitoring.Broadcaster
	audit   audit.Recorder
	logger  *slog.Logger

	locks [lockStripes]sync.Mutex

	waitMu  sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewCoordinator builds a coordinator over store. Stores that also implement
// cache.PubSub (Redis, memory, Fallback) wake waiters immediately; others
// rely on polling.
func NewCoordinator(store cache.Store, opts ...Option) *Coordinator {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	c := &Coordinator{
		store:   store,
		timeout: DefaultTimeout,
		poll:    DefaultPollInterval,
		notify:  monitoring.Discard{},
		audit:   audit.Nop{},
		logger:  slog.Default().With("component", "approval"),
		waiters: make(map[string]map[chan struct{}]struct{}),
	}
	if ps, ok := store.(cache.PubSub); ok {
		c.pubsub = ps
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout is the default wait used when WaitForApproval gets zero
func (c *Coordinator) Timeout() time.Duration { return c.timeout }

// PollInterval is the safety-net re-read period of waiters
func (c *Coordinator) PollInterval() time.Duration { return c.poll }

func (c *Coordinator) ttl() time.Duration { return 2 * c.timeout }

func (c *Coordinator) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.locks[h.Sum32()%lockStripes]
}

// GenerateActionID returns "action_" followed by 32 hex characters
func GenerateActionID() string {
	return "action_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RegisterPending records action as awaiting approval. Re-registering an id
// overwrites the previous entry.
func (c *Coordinator) RegisterPending(ctx context.Context, actionID string, action models.Action) error {
	if actionID == "" {
		return errors.ValidationError("action id is required")
	}
	rec := models.PendingRecord{
		ActionID:     actionID,
		Action:       action.WithID(actionID),
		RegisteredAt: time.Now().UTC(),
		Status:       models.ApprovalPending,
	}

	mu := c.lockFor(actionID)
	mu.Lock()
	defer mu.Unlock()

	if err := c.store.SetWithTTL(ctx, pendingPrefix+actionID, rec, c.ttl()); err != nil {
		return errors.StoreErrorf(err, "failed to register pending action %s", actionID)
	}
	c.logger.Info("registered pending action", "action_id", actionID, "type", action.Type)
	return nil
}

// GetDecision returns the stored decision, or PENDING when there is none or
// the store cannot answer
func (c *Coordinator) GetDecision(ctx context.Context, actionID string) models.ApprovalDecision {
	var d models.ApprovalDecision
	found, err := c.store.Get(ctx, decisionPrefix+actionID, &d)
	if err != nil {
		c.logger.Error("failed to read approval decision", "action_id", actionID, "error", err)
		return models.ApprovalDecision{Status: models.ApprovalPending}
	}
	if !found || d.Status == "" {
		return models.ApprovalDecision{Status: models.ApprovalPending}
	}
	return d
}

// GetPending returns the pending record for an id, if still registered
func (c *Coordinator) GetPending(ctx context.Context, actionID string) (models.PendingRecord, bool) {
	var rec models.PendingRecord
	found, err := c.store.Get(ctx, pendingPrefix+actionID, &rec)
	if err != nil || !found {
		return models.PendingRecord{}, false
	}
	return rec, true
}

// Approve records an approval. The latest decision for an id wins. modified,
// when non-nil, replaces the action the gate executes.
func (c *Coordinator) Approve(ctx context.Context, actionID, by, notes string, modified *models.Action) (models.ApprovalDecision, error) {
	now := time.Now().UTC()
	d := models.ApprovalDecision{
		Status:     models.ApprovalApproved,
		ApprovedBy: by,
		ApprovedAt: &now,
		Notes:      notes,
	}
	if modified != nil {
		m := modified.WithID(actionID)
		d.ModifiedAction = &m
	}
	if err := c.decide(ctx, actionID, d); err != nil {
		return models.ApprovalDecision{}, err
	}

	kind := audit.ActionApproved
	if modified != nil {
		kind = audit.ActionApprovedChanged
	}
	c.record(ctx, audit.Intervention{Kind: kind, Operator: by, ActionID: actionID, Reason: notes, Timestamp: now})
	c.logger.Info("action approved", "action_id", actionID, "approved_by", by, "modified", modified != nil)
	return d, nil
}

// Reject records a rejection. The latest decision for an id wins.
func (c *Coordinator) Reject(ctx context.Context, actionID, by, reason string) (models.ApprovalDecision, error) {
	now := time.Now().UTC()
	d := models.ApprovalDecision{
		Status:          models.ApprovalRejected,
		RejectedBy:      by,
		RejectedAt:      &now,
		RejectionReason: reason,
	}
	if err := c.decide(ctx, actionID, d); err != nil {
		return models.ApprovalDecision{}, err
	}

	c.record(ctx, audit.Intervention{Kind: audit.ActionRejected, Operator: by, ActionID: actionID, Reason: reason, Timestamp: now})
	c.logger.Info("action rejected", "action_id", actionID, "rejected_by", by, "reason", reason)
	return d, nil
}

func (c *Coordinator) decide(ctx context.Context, actionID string, d models.ApprovalDecision) error {
	if actionID == "" {
		return errors.ValidationError("action id is required")
	}

	mu := c.lockFor(actionID)
	mu.Lock()
	err := c.store.SetWithTTL(ctx, decisionPrefix+actionID, d, c.ttl())
	if err == nil {
		if derr := c.store.Delete(ctx, pendingPrefix+actionID); derr != nil {
			c.logger.Warn("failed to clear pending entry", "action_id", actionID, "error", derr)
		}
	}
	mu.Unlock()

	if err != nil {
		return errors.StoreErrorf(err, "failed to store decision for %s", actionID)
	}

	c.wake(actionID)
	if c.pubsub != nil {
		if perr := c.pubsub.Publish(ctx, decisionChannel, actionID); perr != nil {
			c.logger.Debug("decision publish failed, waiters will poll", "action_id", actionID, "error", perr)
		}
	}

	ev := monitoring.Event{
		Type:     monitoring.EventApproval,
		Agent:    "Approver",
		ActionID: actionID,
		Status:   string(d.Status),
		Data:     map[string]interface{}{},
	}
	if d.Status == models.ApprovalApproved {
		ev.Data["approved_by"] = d.ApprovedBy
	} else {
		ev.Data["rejected_by"] = d.RejectedBy
		ev.Data["rejection_reason"] = d.RejectionReason
	}
	c.notify.Broadcast(ctx, ev)
	return nil
}

// WaitForApproval blocks until the action is approved or rejected, the
// timeout passes, or ctx ends. A zero timeout uses the default. The returned
// TIMEOUT decision is never stored.
func (c *Coordinator) WaitForApproval(ctx context.Context, actionID string, timeout time.Duration) models.ApprovalDecision {
	if timeout <= 0 {
		timeout = c.timeout
	}

	local := c.addWaiter(actionID)
	defer c.removeWaiter(actionID, local)

	var remote <-chan string
	if c.pubsub != nil {
		ch, cancel := c.pubsub.Subscribe(ctx, decisionChannel)
		defer cancel()
		remote = ch
	}

	if d := c.GetDecision(ctx, actionID); d.Resolved() {
		return d
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.ApprovalDecision{
				Status:          models.ApprovalTimeout,
				RejectionReason: "wait cancelled: " + ctx.Err().Error(),
			}
		case <-deadline.C:
			// one last read so a decision landing on the deadline is not lost
			if d := c.GetDecision(ctx, actionID); d.Resolved() {
				return d
			}
			c.logger.Warn("approval timeout", "action_id", actionID, "timeout", timeout)
			return models.ApprovalDecision{Status: models.ApprovalTimeout, RejectionReason: timeoutReason}
		case msg, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			if msg != actionID {
				continue
			}
		case <-local:
		case <-ticker.C:
		}

		if d := c.GetDecision(ctx, actionID); d.Resolved() {
			return d
		}
	}
}

// ListPending returns actions still awaiting a decision, oldest first.
// Entries whose decision already exists are skipped.
func (c *Coordinator) ListPending(ctx context.Context) []models.PendingRecord {
	keys, err := c.store.Keys(ctx, pendingPrefix)
	if err != nil {
		c.logger.Error("failed to list pending actions", "error", err)
		return []models.PendingRecord{}
	}

	out := make([]models.PendingRecord, 0, len(keys))
	for _, key := range keys {
		var rec models.PendingRecord
		found, err := c.store.Get(ctx, key, &rec)
		if err != nil {
			c.logger.Error("failed to parse pending action", "key", key, "error", err)
			continue
		}
		if !found || rec.Status != models.ApprovalPending {
			continue
		}
		if c.GetDecision(ctx, rec.ActionID).Status != models.ApprovalPending {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

func (c *Coordinator) addWaiter(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	c.waitMu.Lock()
	if c.waiters[id] == nil {
		c.waiters[id] = make(map[chan struct{}]struct{})
	}
	c.waiters[id][ch] = struct{}{}
	c.waitMu.Unlock()
	return ch
}

func (c *Coordinator) removeWaiter(id string, ch chan struct{}) {
	c.waitMu.Lock()
	delete(c.waiters[id], ch)
	if len(c.waiters[id]) == 0 {
		delete(c.waiters, id)
	}
	c.waitMu.Unlock()
}

func (c *Coordinator) wake(id string) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for ch := range c.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) record(ctx context.Context, iv audit.Intervention) {
	if err := c.audit.Record(ctx, iv); err != nil {
		c.logger.Warn("failed to record intervention", "kind", iv.Kind, "error", err)
	}
}
