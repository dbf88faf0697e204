package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/metrics"
)

const subscriberBuffer = 16

// Hub keeps per-user live subscriptions, one per open websocket.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Subscription receives events for one user until Close.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	hub    *Hub
	userID string
	once   sync.Once
}

func NewHub(logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		logger:  logger,
		metrics: m,
	}
}

func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, userID: userID}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscription]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.IncrementActiveSockets()
	return sub
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs[s.userID], s)
		if len(h.subs[s.userID]) == 0 {
			delete(h.subs, s.userID)
		}
		close(s.ch)
		h.mu.Unlock()
		h.metrics.DecrementActiveSockets()
	})
}

// Subscribers counts live subscriptions for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) Name() string { return "websocket" }

// Notify never blocks; a subscriber whose buffer is full misses the event.
func (h *Hub) Notify(ctx context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.UserID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("Dropping event for slow websocket subscriber",
				zap.String("user_id", ev.UserID),
				zap.String("kind", ev.Kind),
			)
		}
	}
	return nil
}
