package verify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/careops/internal/models"
)

type recordingDLQ struct {
	mu      sync.Mutex
	entries []string
	cause   error
}

func (r *recordingDLQ) Enqueue(_ context.Context, actionID, _, _ string, cause error, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, actionID)
	r.cause = cause
	return nil
}

func (r *recordingDLQ) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func task(id string, delay time.Duration, check CheckFunc) Task {
	return Task{
		Agent:  "Quartermaster",
		Action: models.NewAction(&models.PurchaseOrder{Item: "ppe_kits"}, "restock").WithID(id),
		Delay:  delay,
		Check:  check,
	}
}

func TestScheduledCheckRunsAfterDelay(t *testing.T) {
	got := make(chan models.Verification, 1)
	s := NewScheduler(WithHandler(func(_ context.Context, _ Task, v models.Verification) { got <- v }))
	defer s.Stop()

	start := time.Now()
	require.True(t, s.Schedule(task("a1", 50*time.Millisecond, func(context.Context) (models.Verification, error) {
		return models.Verification{Success: true, Notes: "delivered"}, nil
	})))

	select {
	case v := <-got:
		assert.True(t, v.Success)
		assert.False(t, v.VerifiedAt.IsZero())
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("verification never ran")
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	got := make(chan models.Verification, 1)
	s := NewScheduler(
		WithBackoff(5*time.Millisecond),
		WithMaxAttempts(3),
		WithHandler(func(_ context.Context, _ Task, v models.Verification) { got <- v }),
	)
	defer s.Stop()

	s.Schedule(task("a2", 0, func(context.Context) (models.Verification, error) {
		if calls.Add(1) < 3 {
			return models.Verification{}, errors.New("supplier API timeout")
		}
		return models.Verification{Success: true}, nil
	}))

	select {
	case v := <-got:
		assert.True(t, v.Success)
		assert.Equal(t, int32(3), calls.Load())
	case <-time.After(2 * time.Second):
		t.Fatal("verification never completed")
	}
}

func TestExhaustedTaskIsDeadLettered(t *testing.T) {
	dlq := &recordingDLQ{}
	s := NewScheduler(WithBackoff(time.Millisecond), WithMaxAttempts(2), WithDeadLetter(dlq))

	s.Schedule(task("a3", 0, func(context.Context) (models.Verification, error) {
		panic("nil inventory")
	}))

	require.Eventually(t, func() bool { return dlq.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, []string{"a3"}, dlq.entries)
	assert.Contains(t, dlq.cause.Error(), "panicked")
}

func TestStopCancelsPendingTasks(t *testing.T) {
	var ran atomic.Bool
	s := NewScheduler()
	s.Schedule(task("a4", time.Hour, func(context.Context) (models.Verification, error) {
		ran.Store(true)
		return models.Verification{Success: true}, nil
	}))
	assert.Equal(t, 1, s.Pending())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the pending task")
	}
	assert.False(t, ran.Load())
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Schedule(task("a5", 0, func(context.Context) (models.Verification, error) {
		return models.Verification{}, nil
	})))
}

func TestScheduleRejectsNilCheck(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	assert.False(t, s.Schedule(Task{}))
}
