// Package killswitch is the global emergency halt. While active, the gate
// blocks every proposal before risk evaluation. The flag lives in the shared
// store so every process sees it, expires after a hard TTL, and is mirrored
// to a process-local store for degraded operation.
package killswitch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rohankatakam/careops/internal/audit"
	"github.com/rohankatakam/careops/internal/cache"
	"github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/models"
	"github.com/rohankatakam/careops/internal/monitoring"
)

const (
	DefaultKey = "system:kill_switch"
	DefaultTTL = 24 * time.Hour

	// flagValue is the stored marker while active
	flagValue = "KILLED"
)

// FailurePolicy decides what IsActive answers when the shared store is down
type FailurePolicy int

const (
	// FailOpen answers from process-local state (inactive unless this
	// process activated it)
	FailOpen FailurePolicy = iota
	// FailClosed treats an unreachable store as an active switch
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// Activation is returned by Activate
type Activation struct {
	models.KillSwitchState
	// Degraded is set when only the local store accepted the write
	Degraded bool `json:"degraded"`
}

// Deactivation is returned by Deactivate
type Deactivation struct {
	models.Reactivation
	// Degraded is set when the shared store did not accept the lift, so the
	// halt may still hold on other hosts
	Degraded bool `json:"degraded"`
}

// Status is the full state of the switch
type Status struct {
	SystemActive     bool                    `json:"system_active"`
	KillSwitchActive bool                    `json:"kill_switch_active"`
	Activation       *models.KillSwitchState `json:"activation,omitempty"`
	Reactivation     *models.Reactivation    `json:"reactivation,omitempty"`
	Degraded         bool                    `json:"degraded"`
	FailurePolicy    string                  `json:"failure_policy"`
}

// Option configures a Switch
type Option func(*Switch)

func WithKey(key string) Option {
	return func(s *Switch) {
		if key != "" {
			s.key = key
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Switch) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Switch) { s.policy = p }
}

// WithBroadcaster sets the monitoring sink notified on every toggle
func WithBroadcaster(b monitoring.Broadcaster) Option {
	return func(s *Switch) { s.notify = b }
}

// WithAuditor records toggles as operator interventions
func WithAuditor(r audit.Recorder) Option {
	return func(s *Switch) { s.audit = r }
}

// WithLocal replaces the in-memory local store, e.g. with a bbolt store so
// local state survives a restart
func WithLocal(store cache.Store) Option {
	return func(s *Switch) {
		if store != nil {
			s.local = store
		}
	}
}

// Switch is safe for concurrent use
type Switch struct {
	primary cache.Store
	local   cache.Store
	key     string
	ttl     time.Duration
	policy  FailurePolicy
	notify  monitoring.Broadcaster
	audit   audit.Recorder
	logger  *slog.Logger

	degraded atomic.Bool
	now      func() time.Time
}

// New creates a switch over the shared store. A nil primary means the switch
// is process-local only.
func New(primary cache.Store, opts ...Option) *Switch {
	s := &Switch{
		primary: primary,
		local:   cache.NewMemoryStore(),
		key:     DefaultKey,
		ttl:     DefaultTTL,
		policy:  FailOpen,
		notify:  monitoring.Discard{},
		audit:   audit.Nop{},
		logger:  slog.Default().With("component", "kill_switch"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Switch) metadataKey() string     { return s.key + ":metadata" }
func (s *Switch) reactivationKey() string { return s.key + ":reactivation" }

// IsActive reports whether autonomous actions are halted. It never errors;
// store failures are resolved by the failure policy.
func (s *Switch) IsActive(ctx context.Context) bool {
	var flag string
	if s.primary != nil {
		found, err := s.primary.Get(ctx, s.key, &flag)
		if err == nil {
			s.markHealthy()
			if !found {
				s.clearStaleLocal(ctx)
			}
			return found
		}
		s.markDegraded("is_active", err)
		if s.policy == FailClosed {
			return true
		}
	}

	found, err := s.local.Get(ctx, s.key, &flag)
	if err != nil {
		s.logger.Error("local kill switch state unreadable", "error", err)
		return s.policy == FailClosed
	}
	return found
}

// clearStaleLocal drops a local flag that the shared store no longer holds,
// so a later outage does not re-halt this host on a lifted switch
func (s *Switch) clearStaleLocal(ctx context.Context) {
	var flag string
	found, err := s.local.Get(ctx, s.key, &flag)
	if err != nil || !found {
		return
	}
	if err := s.local.Delete(ctx, s.key); err != nil {
		s.logger.Warn("failed to clear stale local kill switch flag", "error", err)
		return
	}
	s.logger.Info("cleared local kill switch flag lifted on the shared store")
}

// Activate halts all autonomous actions for the TTL. A shared-store failure
// is not an error; the activation then holds for this process only and the
// result is marked Degraded.
func (s *Switch) Activate(ctx context.Context, reason, by string) (Activation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Activation{}, errors.ValidationError("kill switch activation requires a reason")
	}
	if by == "" {
		by = "unknown"
	}

	state := models.KillSwitchState{
		Active:      true,
		Reason:      reason,
		ActivatedBy: by,
		ActivatedAt: s.now(),
	}

	degraded := false
	if s.primary != nil {
		if err := s.writeActivation(ctx, s.primary, state); err != nil {
			s.markDegraded("activate", err)
			degraded = true
		} else {
			s.markHealthy()
		}
	} else {
		degraded = true
	}
	if err := s.writeActivation(ctx, s.local, state); err != nil {
		return Activation{}, errors.StoreError(err, "failed to record kill switch locally")
	}

	s.logger.Warn("KILL SWITCH ACTIVATED", "reason", reason, "activated_by", by, "degraded", degraded)
	s.record(ctx, audit.Intervention{Kind: audit.KillSwitchActivated, Operator: by, Reason: reason, Timestamp: state.ActivatedAt})
	s.broadcast(ctx, "KILL_SWITCH_ACTIVATED", map[string]interface{}{
		"reason":       reason,
		"activated_by": by,
		"activated_at": state.ActivatedAt,
	})

	return Activation{KillSwitchState: state, Degraded: degraded}, nil
}

func (s *Switch) writeActivation(ctx context.Context, store cache.Store, state models.KillSwitchState) error {
	if err := store.SetWithTTL(ctx, s.key, flagValue, s.ttl); err != nil {
		return err
	}
	return store.SetWithTTL(ctx, s.metadataKey(), state, s.ttl)
}

// Deactivate resumes autonomous operation. The activation metadata stays
// readable and a separate reactivation entry is written. A shared-store
// failure is not an error; the result is then marked Degraded.
func (s *Switch) Deactivate(ctx context.Context, by, notes string) (Deactivation, error) {
	if by == "" {
		by = "unknown"
	}
	re := models.Reactivation{
		ReactivatedBy: by,
		ReactivatedAt: s.now(),
		Notes:         notes,
	}

	degraded := false
	if s.primary != nil {
		if err := s.writeReactivation(ctx, s.primary, re); err != nil {
			s.markDegraded("deactivate", err)
			degraded = true
		} else {
			s.markHealthy()
		}
	} else {
		degraded = true
	}
	if err := s.writeReactivation(ctx, s.local, re); err != nil {
		return Deactivation{}, errors.StoreError(err, "failed to record kill switch reactivation locally")
	}

	s.logger.Info("kill switch deactivated", "reactivated_by", by, "degraded", degraded)
	s.record(ctx, audit.Intervention{Kind: audit.KillSwitchDeactivated, Operator: by, Reason: notes, Timestamp: re.ReactivatedAt})
	s.broadcast(ctx, "KILL_SWITCH_DEACTIVATED", map[string]interface{}{
		"reactivated_by": by,
		"reactivated_at": re.ReactivatedAt,
		"notes":          notes,
	})

	return Deactivation{Reactivation: re, Degraded: degraded}, nil
}

func (s *Switch) writeReactivation(ctx context.Context, store cache.Store, re models.Reactivation) error {
	if err := store.Delete(ctx, s.key); err != nil {
		return err
	}
	// Keep the activation metadata but mark it lifted
	var meta models.KillSwitchState
	if found, err := store.Get(ctx, s.metadataKey(), &meta); err == nil && found {
		meta.Active = false
		if err := store.SetWithTTL(ctx, s.metadataKey(), meta, s.ttl); err != nil {
			return err
		}
	}
	return store.SetWithTTL(ctx, s.reactivationKey(), re, s.ttl)
}

// Status reads the flag and both audit entries
func (s *Switch) Status(ctx context.Context) Status {
	active := s.IsActive(ctx)
	st := Status{
		SystemActive:     !active,
		KillSwitchActive: active,
		FailurePolicy:    s.policy.String(),
	}

	var meta models.KillSwitchState
	if s.read(ctx, s.metadataKey(), &meta) {
		st.Activation = &meta
	}
	var re models.Reactivation
	if s.read(ctx, s.reactivationKey(), &re) {
		st.Reactivation = &re
	}
	st.Degraded = s.Degraded()
	return st
}

// Degraded reports whether the shared store is currently unreachable
func (s *Switch) Degraded() bool {
	return s.primary == nil || s.degraded.Load()
}

func (s *Switch) read(ctx context.Context, key string, target interface{}) bool {
	if s.primary != nil {
		found, err := s.primary.Get(ctx, key, target)
		if err == nil {
			return found
		}
		s.markDegraded("status", err)
	}
	found, err := s.local.Get(ctx, key, target)
	return err == nil && found
}

func (s *Switch) markDegraded(op string, err error) {
	if !s.degraded.Swap(true) {
		s.logger.Warn("shared store unavailable, kill switch using local state",
			"op", op, "failure_policy", s.policy.String(), "error", err)
	}
}

func (s *Switch) markHealthy() {
	if s.degraded.Swap(false) {
		s.logger.Info("kill switch shared store recovered")
	}
}

func (s *Switch) record(ctx context.Context, iv audit.Intervention) {
	if err := s.audit.Record(ctx, iv); err != nil {
		s.logger.Warn("failed to record intervention", "kind", iv.Kind, "error", err)
	}
}

// broadcast never blocks the caller and never propagates a failure
func (s *Switch) broadcast(ctx context.Context, status string, data map[string]interface{}) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("kill switch broadcast panicked", "panic", fmt.Sprint(r))
			}
		}()
		s.notify.Broadcast(ctx, monitoring.Event{
			Type:   monitoring.EventKillSwitch,
			Agent:  "System",
			Status: status,
			Data:   data,
		})
	}()
}
