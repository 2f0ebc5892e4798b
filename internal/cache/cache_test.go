package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Status string `json:"status"`
	By     string `json:"by"`
}

func newRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func newBolt(t *testing.T) *BoltStore {
	t.Helper()
	b, err := OpenBoltStore(filepath.Join(t.TempDir(), "state", "careops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// storeContract exercises the behaviour every Store must share
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	var got record
	found, err := s.Get(ctx, "approval:missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetWithTTL(ctx, "approval:a1", record{Status: "APPROVED", By: "cmo"}, time.Hour))
	require.NoError(t, s.SetWithTTL(ctx, "approval:a2", record{Status: "REJECTED"}, 0))
	require.NoError(t, s.SetWithTTL(ctx, "pending:a3", record{Status: "PENDING"}, time.Hour))

	found, err = s.Get(ctx, "approval:a1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, record{Status: "APPROVED", By: "cmo"}, got)

	keys, err := s.Keys(ctx, "approval:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"approval:a1", "approval:a2"}, keys)

	// overwrite is last-write-wins
	require.NoError(t, s.SetWithTTL(ctx, "approval:a1", record{Status: "REJECTED", By: "legal"}, time.Hour))
	found, err = s.Get(ctx, "approval:a1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "legal", got.By)

	require.NoError(t, s.Delete(ctx, "approval:a1"))
	require.NoError(t, s.Delete(ctx, "approval:a1"), "deleting a missing key is not an error")
	found, err = s.Get(ctx, "approval:a1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreContract(t *testing.T) {
	t.Run("memory", func(t *testing.T) { storeContract(t, NewMemoryStore()) })
	t.Run("bolt", func(t *testing.T) { storeContract(t, newBolt(t)) })
	t.Run("redis", func(t *testing.T) {
		c, _ := newRedis(t)
		storeContract(t, c)
	})
	t.Run("fallback", func(t *testing.T) {
		c, _ := newRedis(t)
		storeContract(t, NewFallback(c, NewMemoryStore()))
	})
}

func TestRedisTTL(t *testing.T) {
	c, mr := newRedis(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "system:kill_switch", "KILLED", 24*time.Hour))
	assert.Equal(t, 24*time.Hour, mr.TTL("system:kill_switch"))

	mr.FastForward(25 * time.Hour)
	var v string
	found, err := c.Get(ctx, "system:kill_switch", &v)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltExpiry(t *testing.T) {
	b := newBolt(t)
	now := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.SetWithTTL(ctx, "pending:x", record{Status: "PENDING"}, time.Minute))
	keys, err := b.Keys(ctx, "pending:")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	now = now.Add(2 * time.Minute)
	var got record
	found, err := b.Get(ctx, "pending:x", &got)
	require.NoError(t, err)
	assert.False(t, found)

	keys, err = b.Keys(ctx, "pending:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBoltSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careops.db")
	ctx := context.Background()

	b, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, b.SetWithTTL(ctx, "system:kill_switch", "KILLED", time.Hour))
	require.NoError(t, b.Close())

	b, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer b.Close()

	var v string
	found, err := b.Get(ctx, "system:kill_switch", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "KILLED", v)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.SetWithTTL(ctx, "k", 1, 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		var v int
		found, _ := m.Get(ctx, "k", &v)
		return !found
	}, time.Second, 10*time.Millisecond)
}

func TestPubSub(t *testing.T) {
	c, _ := newRedis(t)
	stores := map[string]PubSub{
		"memory":   NewMemoryStore(),
		"redis":    c,
		"fallback": NewFallback(c, NewMemoryStore()),
	}

	for name, ps := range stores {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			ch, stop := ps.Subscribe(ctx, "decisions:action_1")
			defer stop()

			require.NoError(t, ps.Publish(ctx, "decisions:action_1", "APPROVED"))

			select {
			case msg := <-ch:
				assert.Equal(t, "APPROVED", msg)
			case <-ctx.Done():
				t.Fatal("no message delivered")
			}
		})
	}
}

func TestCappedList(t *testing.T) {
	c, _ := newRedis(t)
	lists := map[string]ListStore{"memory": NewMemoryStore(), "redis": c}

	for name, ls := range lists {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, ls.PushCapped(ctx, "monitoring:history", i, 3))
			}

			vals, err := ls.Range(ctx, "monitoring:history", 10)
			require.NoError(t, err)
			require.Len(t, vals, 3)
			assert.Equal(t, "4", string(vals[0]), "newest first")
			assert.Equal(t, "2", string(vals[2]))
		})
	}
}

// failingStore simulates an unreachable shared store
type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) Get(context.Context, string, interface{}) (bool, error) { return false, errDown }
func (failingStore) SetWithTTL(context.Context, string, interface{}, time.Duration) error {
	return errDown
}
func (failingStore) Delete(context.Context, string) error             { return errDown }
func (failingStore) Keys(context.Context, string) ([]string, error)   { return nil, errDown }
func (failingStore) Close() error                                     { return nil }

func TestFallbackDegradesToLocal(t *testing.T) {
	ctx := context.Background()
	f := NewFallback(failingStore{}, NewMemoryStore())

	require.NoError(t, f.SetWithTTL(ctx, "approval:a", record{Status: "APPROVED"}, time.Minute))
	assert.True(t, f.Degraded())

	var got record
	found, err := f.Get(ctx, "approval:a", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "APPROVED", got.Status)

	keys, err := f.Keys(ctx, "approval:")
	require.NoError(t, err)
	assert.Equal(t, []string{"approval:a"}, keys)
}

func TestFallbackPrimaryMissIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedis(t)
	local := NewMemoryStore()
	f := NewFallback(c, local)

	// a stale local copy must not resurrect a key the shared store no longer has
	require.NoError(t, local.SetWithTTL(ctx, "pending:a", record{Status: "PENDING"}, time.Minute))

	var got record
	found, err := f.Get(ctx, "pending:a", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, f.Degraded())
}
