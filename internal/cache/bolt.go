package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltBucket = "kv"

// boltEntry wraps a value with its absolute expiry (zero = never)
type boltEntry struct {
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
	Data      json.RawMessage `json:"data"`
}

func (e boltEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// BoltStore is a single-host Store that survives restarts. It is used for
// the kill switch and approvals when no Redis is configured. The file is
// opened for each operation and closed again, so a long-running cycle and an
// operator command on the same host take the file lock in turn instead of
// one of them holding it for the life of the process.
type BoltStore struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// DefaultBoltLockTimeout bounds how long an operation waits for another
// process to release the file
const DefaultBoltLockTimeout = 5 * time.Second

// OpenBoltStore creates the database file at path if needed and checks that
// it can be locked
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	b := &BoltStore{
		path:        path,
		lockTimeout: DefaultBoltLockTimeout,
		logger:      slog.Default().With("component", "bolt_store", "path", path),
		now:         time.Now,
	}
	if err := b.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	return b, nil
}

func (b *BoltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(b.path, 0600, &bolt.Options{Timeout: b.lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("bolt store %s is locked or unreadable: %w", b.path, err)
	}
	return db, nil
}

func (b *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	db, err := b.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (b *BoltStore) update(fn func(tx *bolt.Tx) error) error {
	db, err := b.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

func (b *BoltStore) Get(_ context.Context, key string, target interface{}) (bool, error) {
	var entry boltEntry
	var found bool

	err := b.view(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return false, fmt.Errorf("bolt get failed for key %s: %w", key, err)
	}
	if !found {
		return false, nil
	}

	if entry.expired(b.now()) {
		if err := b.Delete(context.Background(), key); err != nil {
			b.logger.Warn("failed to evict expired key", "key", key, "error", err)
		}
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	return true, nil
}

func (b *BoltStore) SetWithTTL(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}

	entry := boltEntry{Data: data}
	if ttl > 0 {
		entry.ExpiresAt = b.now().Add(ttl)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), raw)
	})
}

func (b *BoltStore) Delete(_ context.Context, key string) error {
	return b.update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
}

// Keys returns live keys with the given prefix
func (b *BoltStore) Keys(_ context.Context, prefix string) ([]string, error) {
	now := b.now()
	var keys []string

	err := b.view(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(boltBucket)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil || entry.expired(now) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt scan failed for prefix %s: %w", prefix, err)
	}
	return keys, nil
}

// Close is a no-op; no handle outlives an operation
func (b *BoltStore) Close() error {
	return nil
}
