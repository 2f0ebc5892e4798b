package main

import (
	"context"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/rohankatakam/careops/internal/approval"
	"github.com/rohankatakam/careops/internal/audit"
	"github.com/rohankatakam/careops/internal/cache"
	"github.com/rohankatakam/careops/internal/dlq"
	careerrors "github.com/rohankatakam/careops/internal/errors"
	"github.com/rohankatakam/careops/internal/gate"
	"github.com/rohankatakam/careops/internal/killswitch"
	"github.com/rohankatakam/careops/internal/monitoring"
	"github.com/rohankatakam/careops/internal/risk"
	"github.com/rohankatakam/careops/internal/storage"
	"github.com/rohankatakam/careops/internal/verify"
)

// runtime is everything a command needs, wired from cfg
type runtime struct {
	redis     *cache.RedisClient // nil without Redis
	local     cache.Store
	shared    cache.Store
	policy    *risk.PolicySource
	hub       *monitoring.Hub
	audit     *audit.Log
	kill      *killswitch.Switch
	approvals *approval.Coordinator
	store     storage.Store
	dlq       *dlq.Queue // nil for the memory store
	verifier  *verify.Scheduler
	gate      *gate.Gate
}

// sqlBacked is implemented by the SQL audit stores
type sqlBacked interface {
	DB() *sqlx.DB
}

// newRuntime wires the shared store, kill switch, approvals, audit storage and
// gate. A Redis outage degrades to the local bbolt store instead of failing.
func newRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	// a private memory store would hide halts and decisions made by other
	// careops processes on this host
	local, err := cache.OpenBoltStore(cfg.KillSwitch.LocalPath)
	if err != nil {
		return nil, careerrors.StoreErrorf(err, "failed to open local state store %s", cfg.KillSwitch.LocalPath)
	}
	rt.local = local
	rt.shared = rt.local

	if cfg.Redis.Enabled() {
		rc, err := cache.NewRedisClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if err != nil {
			logger.WithError(err).Warn("Redis unreachable, kill switch and approvals are local to this host")
		} else {
			rt.redis = rc
			rt.shared = cache.NewFallback(rc, rt.local)
		}
	}

	hubOpts := []monitoring.Option{monitoring.WithHistorySize(cfg.Monitoring.HistorySize)}
	if rt.redis != nil {
		hubOpts = append(hubOpts, monitoring.WithMirror(rt.redis))
	}
	rt.hub = monitoring.NewHub(hubOpts...)

	rt.audit = audit.NewLog(filepath.Join(filepath.Dir(cfg.KillSwitch.LocalPath), "interventions.jsonl"))

	var primary cache.Store
	if rt.redis != nil {
		primary = rt.redis
	}
	failure := killswitch.FailOpen
	if cfg.KillSwitch.FailClosed {
		failure = killswitch.FailClosed
	}
	rt.kill = killswitch.New(primary,
		killswitch.WithLocal(rt.local),
		killswitch.WithKey(cfg.KillSwitch.Key),
		killswitch.WithTTL(cfg.KillSwitch.TTL),
		killswitch.WithFailurePolicy(failure),
		killswitch.WithBroadcaster(rt.hub),
		killswitch.WithAuditor(rt.audit),
	)

	rt.approvals = approval.NewCoordinator(rt.shared,
		approval.WithTimeout(cfg.Approval.Timeout),
		approval.WithPollInterval(cfg.Approval.PollInterval),
		approval.WithBroadcaster(rt.hub),
		approval.WithAuditor(rt.audit),
	)

	rt.store, err = storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	verifyOpts := []verify.Option{
		verify.WithMaxAttempts(cfg.Verification.MaxAttempts),
		verify.WithBackoff(cfg.Verification.Backoff),
	}
	if sb, ok := rt.store.(sqlBacked); ok {
		q := dlq.NewQueue(sb.DB())
		if err := q.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Warn("Dead letter queue unavailable")
		} else {
			rt.dlq = q
			verifyOpts = append(verifyOpts, verify.WithDeadLetter(q))
		}
	}
	rt.verifier = verify.NewScheduler(verifyOpts...)

	rt.policy = risk.NewPolicySource(cfg.Policy.Path)
	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		go func() {
			if err := rt.policy.Watch(ctx); err != nil {
				logger.WithError(err).Warn("Policy watch stopped")
			}
		}()
	}

	rt.gate = gate.New(rt.policy, rt.kill, rt.approvals,
		gate.WithStore(rt.store),
		gate.WithBroadcaster(rt.hub),
		gate.WithScheduler(rt.verifier),
		gate.WithVerifyDelay(cfg.Verification.Delay),
		gate.WithApprovalTimeout(cfg.Approval.Timeout),
	)
	return rt, nil
}

// Close stops pending verifications and releases every connection
func (rt *runtime) Close() {
	if rt.verifier != nil {
		rt.verifier.Stop()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logger.WithError(err).Debug("Closing audit store")
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logger.WithError(err).Debug("Closing redis")
		}
	}
	if rt.local != nil {
		if err := rt.local.Close(); err != nil {
			logger.WithError(err).Debug("Closing local store")
		}
	}
}
