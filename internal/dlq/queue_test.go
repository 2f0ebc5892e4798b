package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	q := NewQueue(db)
	require.NoError(t, q.EnsureSchema(context.Background()))
	return q
}

func TestEnqueueAndRetryCount(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)

	require.NoError(t, q.Enqueue(ctx, "action_1", "Quartermaster", "PURCHASE_ORDER", errors.New("supplier API down"), map[string]interface{}{"attempts": 3}))
	require.NoError(t, q.Enqueue(ctx, "action_1", "Quartermaster", "PURCHASE_ORDER", errors.New("still down"), nil))

	entries, err := q.GetPendingRetries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "action_1", entries[0].ActionID)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "still down", entries[0].ErrorMessage)
	require.NotNil(t, entries[0].LastRetryAt)
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	require.NoError(t, q.Enqueue(ctx, "action_2", "PressSecretary", "PATIENT_ADVISORY", errors.New("boom"), map[string]interface{}{"channel": "sms"}))

	recent, err := q.GetRecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "sms", recent[0].Metadata["channel"])
	assert.Nil(t, recent[0].LastRetryAt)
}

func TestExhaustedEntriesLeavePendingRetries(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	q.maxRetries = 2

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, "action_3", "Quartermaster", "STAFFING_CHANGE", errors.New("hr offline"), nil))
	}
	require.NoError(t, q.Enqueue(ctx, "action_4", "Quartermaster", "STAFFING_CHANGE", errors.New("hr offline"), nil))

	pending, err := q.GetPendingRetries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "action_4", pending[0].ActionID)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{TotalEntries: 2, RetryableEntries: 1, ExhaustedRetries: 1}, stats)
}

func TestMarkResolved(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	require.NoError(t, q.Enqueue(ctx, "action_5", "Quartermaster", "PURCHASE_ORDER", errors.New("x"), nil))
	require.NoError(t, q.MarkResolved(ctx, "action_5"))
	require.NoError(t, q.MarkResolved(ctx, "action_missing"))

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestPurgeOld(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)

	past := time.Now().UTC().Add(-48 * time.Hour)
	q.now = func() time.Time { return past }
	require.NoError(t, q.Enqueue(ctx, "old", "Quartermaster", "PURCHASE_ORDER", errors.New("x"), nil))
	q.now = func() time.Time { return time.Now().UTC() }
	require.NoError(t, q.Enqueue(ctx, "new", "Quartermaster", "PURCHASE_ORDER", errors.New("x"), nil))

	n, err := q.PurgeOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := q.GetRecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ActionID)
}
