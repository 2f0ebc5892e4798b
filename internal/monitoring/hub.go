// Package monitoring is the broadcast sink for agent activity. Every
// proposal, status transition, error and verification is recorded in a
// bounded history and fanned out to live subscribers (dashboards, the CLI
// tail command, tests).
package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohankatakam/careops/internal/cache"
)

// EventType classifies a broadcast
type EventType string

const (
	EventProposal     EventType = "proposal"
	EventStatusUpdate EventType = "status_update"
	EventError        EventType = "error"
	EventVerification EventType = "verification"
	EventKillSwitch   EventType = "kill_switch"
	EventApproval     EventType = "approval"
)

// DefaultHistorySize bounds the in-memory history
const DefaultHistorySize = 1000

// HistoryKey is the shared list the history is mirrored to
const HistoryKey = "monitoring:history"

// Event is one broadcast. Data carries event-specific fields.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Agent     string                 `json:"agent,omitempty"`
	ActionID  string                 `json:"action_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	RiskLevel string                 `json:"risk_level,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Broadcaster is what producers depend on
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event)
}

// Option configures a Hub
type Option func(*Hub)

// WithHistorySize overrides the retained history length
func WithHistorySize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.size = n
		}
	}
}

// WithMirror copies every event to a shared capped list
func WithMirror(list cache.ListStore) Option {
	return func(h *Hub) { h.mirror = list }
}

// Hub is a fan-out broadcaster with bounded history. Slow subscribers lose
// events rather than blocking producers.
type Hub struct {
	mu      sync.RWMutex
	ring    []Event
	next    int
	count   int
	size    int
	subs    map[int]chan Event
	nextSub int

	mirror cache.ListStore
	logger *slog.Logger
}

// NewHub creates a hub with DefaultHistorySize unless overridden
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		size:   DefaultHistorySize,
		subs:   make(map[int]chan Event),
		logger: slog.Default().With("component", "monitoring"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ring = make([]Event, h.size)
	return h
}

// Broadcast records ev and forwards it to every subscriber. It never blocks
// on a subscriber and never fails.
func (h *Hub) Broadcast(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Agent == "" && ev.Type != EventKillSwitch {
		ev.Agent = "Unknown Agent"
	}

	h.mu.Lock()
	h.ring[h.next] = ev
	h.next = (h.next + 1) % h.size
	if h.count < h.size {
		h.count++
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("subscriber lagging, event dropped", "subscriber", id, "event", ev.ID)
		}
	}
	h.mu.Unlock()

	if h.mirror != nil {
		go h.mirrorEvent(context.WithoutCancel(ctx), ev)
	}

	h.logger.Info("broadcast", "type", ev.Type, "agent", ev.Agent, "action_id", ev.ActionID, "status", ev.Status)
}

func (h *Hub) mirrorEvent(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.mirror.PushCapped(ctx, HistoryKey, ev, h.size); err != nil {
		h.logger.Warn("failed to mirror event to shared history", "event", ev.ID, "error", err)
	}
}

// Subscribe returns a buffered event channel and an unsubscribe func.
// Calling the func more than once is safe.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to n events, newest first
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]Event, 0, n)
	idx := h.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + h.size) % h.size
		out = append(out, h.ring[idx])
	}
	return out
}

// RecentShared reads the mirrored history, which includes events from other
// processes. Falls back to the local history without a mirror.
func (h *Hub) RecentShared(ctx context.Context, n int) ([]Event, error) {
	if h.mirror == nil {
		return h.Recent(n), nil
	}
	raw, err := h.mirror.Range(ctx, HistoryKey, n)
	if err != nil {
		return h.Recent(n), err
	}
	out := make([]Event, 0, len(raw))
	for _, b := range raw {
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			h.logger.Warn("skipping malformed history entry", "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len returns the number of events currently retained
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
