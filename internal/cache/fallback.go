package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Fallback writes through to a shared primary and a process-local store.
// Reads go to the primary; when it errors the local copy answers instead.
// A primary miss is authoritative and does not consult the local copy.
type Fallback struct {
	primary  Store
	local    Store
	logger   *slog.Logger
	degraded atomic.Bool
}

// NewFallback composes primary with local. A nil primary means local only.
func NewFallback(primary, local Store) *Fallback {
	return &Fallback{
		primary: primary,
		local:   local,
		logger:  slog.Default().With("component", "cache_fallback"),
	}
}

// Degraded reports whether the last primary operation failed
func (f *Fallback) Degraded() bool {
	return f.primary == nil || f.degraded.Load()
}

func (f *Fallback) note(op, key string, err error) {
	if err == nil {
		if f.degraded.Swap(false) {
			f.logger.Info("shared store recovered")
		}
		return
	}
	if !f.degraded.Swap(true) {
		f.logger.Warn("shared store unavailable, using local fallback", "op", op, "key", key, "error", err)
	}
}

func (f *Fallback) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	if f.primary != nil {
		found, err := f.primary.Get(ctx, key, target)
		f.note("get", key, err)
		if err == nil {
			return found, nil
		}
	}
	return f.local.Get(ctx, key, target)
}

func (f *Fallback) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.primary != nil {
		f.note("set", key, f.primary.SetWithTTL(ctx, key, value, ttl))
	}
	return f.local.SetWithTTL(ctx, key, value, ttl)
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	if f.primary != nil {
		f.note("delete", key, f.primary.Delete(ctx, key))
	}
	return f.local.Delete(ctx, key)
}

func (f *Fallback) Keys(ctx context.Context, prefix string) ([]string, error) {
	if f.primary != nil {
		keys, err := f.primary.Keys(ctx, prefix)
		f.note("keys", prefix, err)
		if err == nil {
			return keys, nil
		}
	}
	return f.local.Keys(ctx, prefix)
}

// Publish goes to every backend that supports it
func (f *Fallback) Publish(ctx context.Context, channel, message string) error {
	var firstErr error
	for _, s := range []Store{f.primary, f.local} {
		if ps, ok := s.(PubSub); ok {
			if err := ps.Publish(ctx, channel, message); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Subscribe merges notifications from every backend that supports pub/sub
func (f *Fallback) Subscribe(ctx context.Context, channel string) (<-chan string, func()) {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan string, 8)
	var sources []<-chan string
	var cancels []func()

	for _, s := range []Store{f.primary, f.local} {
		if ps, ok := s.(PubSub); ok {
			ch, c := ps.Subscribe(ctx, channel)
			sources = append(sources, ch)
			cancels = append(cancels, c)
		}
	}

	var open atomic.Int32
	open.Store(int32(len(sources)))
	if len(sources) == 0 {
		close(out)
	}
	for _, src := range sources {
		go func(src <-chan string) {
			for msg := range src {
				select {
				case out <- msg:
				default:
				}
			}
			if open.Add(-1) == 0 {
				close(out)
			}
		}(src)
	}

	return out, func() {
		for _, c := range cancels {
			c()
		}
		cancel()
	}
}

func (f *Fallback) Close() error {
	var firstErr error
	if f.primary != nil {
		firstErr = f.primary.Close()
	}
	if err := f.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
