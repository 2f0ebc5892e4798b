package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default provider limits shared by every careops process using one key
const (
	DefaultRPM = 60
	DefaultTPM = 100_000
	DefaultRPD = 2_000

	quotaKeyPrefix = "llm:quota"
)

// QuotaError is returned when a request would cross a shared limit
type QuotaError struct {
	Limit      string // RPM, TPM or RPD
	Current    int64
	Max        int64
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("llm %s quota reached (%d/%d), retry in %s", e.Limit, e.Current, e.Max, e.RetryAfter)
}

// Quota counts LLM requests and tokens in Redis so that every process
// drafting advisories draws from one provider budget. Per-minute limits trip
// at 90% to leave headroom for retries.
type Quota struct {
	redis    *redis.Client
	rpmLimit int64
	tpmLimit int64
	rpdLimit int64
	now      func() time.Time
}

// NewQuota uses client for counters. Zero limits take the defaults.
func NewQuota(client *redis.Client, rpm, tpm, rpd int64) *Quota {
	if rpm <= 0 {
		rpm = DefaultRPM
	}
	if tpm <= 0 {
		tpm = DefaultTPM
	}
	if rpd <= 0 {
		rpd = DefaultRPD
	}
	return &Quota{redis: client, rpmLimit: rpm, tpmLimit: tpm, rpdLimit: rpd, now: time.Now}
}

var takeScript = redis.NewScript(`
	local rpm = redis.call('INCR', KEYS[1])
	local tpm = redis.call('INCRBY', KEYS[2], ARGV[4])
	local rpd = redis.call('INCR', KEYS[3])

	if rpm == 1 then redis.call('EXPIRE', KEYS[1], 70) end
	if tpm == tonumber(ARGV[4]) then redis.call('EXPIRE', KEYS[2], 70) end
	if rpd == 1 then redis.call('EXPIRE', KEYS[3], 86400) end

	if rpm > tonumber(ARGV[1]) * 0.9 then
		return {-1, 'RPM', rpm, tonumber(ARGV[1])}
	end
	if tpm > tonumber(ARGV[2]) * 0.9 then
		return {-2, 'TPM', tpm, tonumber(ARGV[2])}
	end
	if rpd > tonumber(ARGV[3]) then
		return {-3, 'RPD', rpd, tonumber(ARGV[3])}
	end
	return {0, 'OK', rpm, tpm, rpd}
`)

func (q *Quota) keys(now time.Time) []string {
	minute := now.UTC().Format("2006-01-02T15:04")
	day := now.UTC().Format("2006-01-02")
	return []string{
		quotaKeyPrefix + ":rpm:" + minute,
		quotaKeyPrefix + ":tpm:" + minute,
		quotaKeyPrefix + ":rpd:" + day,
	}
}

// Take claims one request of estimatedTokens. The counters are incremented
// atomically even when the call is refused.
func (q *Quota) Take(ctx context.Context, estimatedTokens int64) error {
	now := q.now()
	res, err := takeScript.Run(ctx, q.redis, q.keys(now),
		q.rpmLimit, q.tpmLimit, q.rpdLimit, estimatedTokens).Slice()
	if err != nil {
		return fmt.Errorf("llm quota check failed: %w", err)
	}
	if len(res) < 2 {
		return fmt.Errorf("invalid llm quota response")
	}

	code, _ := res[0].(int64)
	if code == 0 {
		return nil
	}

	qe := &QuotaError{}
	qe.Limit, _ = res[1].(string)
	if len(res) >= 4 {
		qe.Current, _ = res[2].(int64)
		qe.Max, _ = res[3].(int64)
	}
	if code == -3 {
		next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		qe.RetryAfter = next.Sub(now.UTC())
	} else {
		qe.RetryAfter = time.Duration(60-now.Second()) * time.Second
	}
	return qe
}

// Usage returns the current minute's requests and tokens and today's requests
func (q *Quota) Usage(ctx context.Context) (rpm, tpm, rpd int64, err error) {
	keys := q.keys(q.now())
	pipe := q.redis.Pipeline()
	rpmCmd := pipe.Get(ctx, keys[0])
	tpmCmd := pipe.Get(ctx, keys[1])
	rpdCmd := pipe.Get(ctx, keys[2])
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, 0, fmt.Errorf("failed to read llm quota usage: %w", err)
	}
	rpm, _ = rpmCmd.Int64()
	tpm, _ = tpmCmd.Int64()
	rpd, _ = rpdCmd.Int64()
	return rpm, tpm, rpd, nil
}
