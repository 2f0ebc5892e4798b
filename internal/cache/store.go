// Package cache provides the key-value capability shared by the kill switch,
// the approval coordinator and the monitoring hub. Values are JSON encoded
// and every write carries an optional TTL.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close
var ErrClosed = errors.New("cache: store closed")

// Store is an atomic per-key get/set with expiry.
//
// Get returns (false, nil) on a miss; an error means the backend could not
// answer at all.
type Store interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// PubSub is implemented by stores that can push notifications to waiters.
// Delivery is best-effort; subscribers must tolerate missed messages.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns a message channel and a cancel func. The channel is
	// closed after cancel or when ctx ends.
	Subscribe(ctx context.Context, channel string) (<-chan string, func())
}

// ListStore is implemented by stores that keep capped lists (newest first)
type ListStore interface {
	PushCapped(ctx context.Context, key string, value interface{}, max int) error
	Range(ctx context.Context, key string, n int) ([][]byte, error)
}
