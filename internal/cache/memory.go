package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is the process-local Store. It backs degraded operation when
// the shared store is unreachable and is the default in tests.
type MemoryStore struct {
	items *gocache.Cache

	mu     sync.Mutex
	subs   map[string]map[int]chan string
	nextID int
	lists  map[string][][]byte
}

// NewMemoryStore creates an in-process store; expired entries are swept every minute
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, time.Minute),
		subs:  make(map[string]map[int]chan string),
		lists: make(map[string][][]byte),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string, target interface{}) (bool, error) {
	raw, ok := m.items.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw.([]byte), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.items.Set(key, data, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.items.Items() { // Items skips expired entries
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan string, func()) {
	ch := make(chan string, 8)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]chan string)
	}
	m.subs[channel][id] = ch
	m.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[channel], id)
			if len(m.subs[channel]) == 0 {
				delete(m.subs, channel)
			}
			close(ch)
			m.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

func (m *MemoryStore) PushCapped(_ context.Context, key string, value interface{}, max int) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal list value for key %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([][]byte{data}, m.lists[key]...)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) Range(_ context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if n < len(list) {
		list = list[:n]
	}
	return append([][]byte(nil), list...), nil
}

// Close drops all entries
func (m *MemoryStore) Close() error {
	m.items.Flush()
	return nil
}
