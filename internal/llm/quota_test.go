package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQuota(t *testing.T, rpm, tpm, rpd int64) (*Quota, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := NewQuota(rdb, rpm, tpm, rpd)
	fixed := time.Date(2026, 3, 14, 10, 30, 15, 0, time.UTC)
	q.now = func() time.Time { return fixed }
	return q, mr
}

func TestQuotaCountsRequestsAndTokens(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuota(t, 0, 0, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Take(ctx, 100))
	}
	rpm, tpm, rpd, err := q.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rpm)
	assert.Equal(t, int64(500), tpm)
	assert.Equal(t, int64(5), rpd)
}

func TestQuotaRPMTripsAtNinetyPercent(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuota(t, 10, 0, 0)

	for i := 0; i < 9; i++ {
		require.NoError(t, q.Take(ctx, 1), "request %d", i+1)
	}
	err := q.Take(ctx, 1)
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "RPM", qe.Limit)
	assert.Equal(t, int64(10), qe.Current)
	assert.Equal(t, int64(10), qe.Max)
	assert.Equal(t, 45*time.Second, qe.RetryAfter)
}

func TestQuotaTPM(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuota(t, 0, 1000, 0)

	require.NoError(t, q.Take(ctx, 850))
	err := q.Take(ctx, 100)
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "TPM", qe.Limit)
}

func TestQuotaDaily(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQuota(t, 1000, 0, 2)

	require.NoError(t, q.Take(ctx, 1))
	require.NoError(t, q.Take(ctx, 1))
	err := q.Take(ctx, 1)
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "RPD", qe.Limit)
	assert.Equal(t, 13*time.Hour+29*time.Minute+45*time.Second, qe.RetryAfter)
}

func TestQuotaMinuteKeysExpire(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQuota(t, 0, 0, 0)

	require.NoError(t, q.Take(ctx, 10))
	keys := q.keys(q.now())
	assert.Equal(t, 70*time.Second, mr.TTL(keys[0]))
	assert.Equal(t, 70*time.Second, mr.TTL(keys[1]))
	assert.Equal(t, 24*time.Hour, mr.TTL(keys[2]))

	mr.FastForward(71 * time.Second)
	rpm, _, rpd, err := q.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, rpm)
	assert.Equal(t, int64(1), rpd)
}
