// Package verify runs deferred outcome checks for executed actions. Each
// task sleeps for its delay, then calls its check with bounded retries and
// exponential backoff; exhausted tasks are dead-lettered.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohankatakam/careops/internal/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 30 * time.Second
)

// CheckFunc performs one verification attempt
type CheckFunc func(ctx context.Context) (models.Verification, error)

// Task is one deferred verification
type Task struct {
	Agent  string
	Action models.Action
	Delay  time.Duration
	Check  CheckFunc
}

// DeadLetter receives tasks whose every attempt failed
type DeadLetter interface {
	Enqueue(ctx context.Context, actionID, agent, actionType string, cause error, metadata map[string]interface{}) error
}

// Handler receives the outcome of a successful check
type Handler func(ctx context.Context, task Task, v models.Verification)

// Option configures a Scheduler
type Option func(*Scheduler)

func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoff = d
		}
	}
}

func WithDeadLetter(d DeadLetter) Option {
	return func(s *Scheduler) { s.dlq = d }
}

// WithHandler sets the callback for completed checks
func WithHandler(h Handler) Option {
	return func(s *Scheduler) { s.handler = h }
}

// Scheduler owns the background goroutines of pending verifications
type Scheduler struct {
	maxAttempts int
	backoff     time.Duration
	dlq         DeadLetter
	handler     Handler
	logger      *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64

	mu      sync.Mutex
	stopped bool
}

func NewScheduler(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      slog.Default().With("component", "verify"),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule starts the task in the background. It returns false once the
// scheduler has been stopped.
func (s *Scheduler) Schedule(task Task) bool {
	if task.Check == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	s.pending.Add(1)
	s.wg.Add(1)
	go s.run(task)

	s.logger.Info("verification scheduled",
		"action_id", task.Action.ID,
		"agent", task.Agent,
		"delay", task.Delay,
	)
	return true
}

// Pending returns the number of tasks not yet finished
func (s *Scheduler) Pending() int {
	return int(s.pending.Load())
}

// Stop cancels every pending task and waits for their goroutines
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(task Task) {
	defer s.wg.Done()
	defer s.pending.Add(-1)

	if !s.sleep(task.Delay) {
		s.logger.Debug("verification cancelled before first attempt", "action_id", task.Action.ID)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		v, err := s.attempt(task)
		if err == nil {
			if v.VerifiedAt.IsZero() {
				v.VerifiedAt = time.Now().UTC()
			}
			s.logger.Info("verification complete",
				"action_id", task.Action.ID,
				"success", v.Success,
				"attempt", attempt,
			)
			if s.handler != nil {
				s.handler(s.ctx, task, v)
			}
			return
		}

		lastErr = err
		s.logger.Warn("verification attempt failed",
			"action_id", task.Action.ID,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", err,
		)
		if attempt < s.maxAttempts && !s.sleep(s.backoff<<(attempt-1)) {
			return
		}
	}

	if s.dlq == nil {
		s.logger.Error("verification exhausted retries", "action_id", task.Action.ID, "error", lastErr)
		return
	}
	meta := map[string]interface{}{"attempts": s.maxAttempts}
	// dead-lettering must not be skipped by a concurrent Stop
	ctx := context.WithoutCancel(s.ctx)
	if err := s.dlq.Enqueue(ctx, task.Action.ID, task.Agent, string(task.Action.Type), lastErr, meta); err != nil {
		s.logger.Error("failed to dead-letter verification", "action_id", task.Action.ID, "error", err)
	}
}

// attempt runs one check, converting a panic into an error
func (s *Scheduler) attempt(task Task) (v models.Verification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verification panicked: %v", r)
		}
	}()
	return task.Check(s.ctx)
}

// sleep waits d or until Stop; reports whether the wait completed
func (s *Scheduler) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
