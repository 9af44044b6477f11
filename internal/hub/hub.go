// Package hub fans aggregated snapshots out to SSE and WebSocket
// subscribers. Snapshots are serialized once per broadcast and shared
// between all subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/cvsloane/infra-dashboard/pkg/logger"
	"github.com/cvsloane/infra-dashboard/pkg/models"
)

const subscriberBuffer = 4

// Subscription is a live feed of serialized snapshots. The channel is
// closed when the subscription is cancelled or dropped.
type Subscription struct {
	ID string
	C  <-chan []byte

	hub *Hub
	ch  chan []byte
}

// Close removes the subscription from the hub. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.ID)
}

// Hub holds the latest snapshot and the set of active subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	latest  []byte
	waiters []chan []byte
}

func New() *Hub {
	return &Hub{subs: make(map[string]*Subscription)}
}

// Publish serializes the snapshot and delivers it to every subscriber.
// A subscriber whose buffer is full is dropped so one stalled client
// cannot back up the rest.
func (h *Hub) Publish(snapshot *models.Snapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		logger.Error("Failed to serialize snapshot", logger.Err(err))
		return
	}

	h.mu.Lock()
	h.latest = payload

	var dropped []string
	for id, sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}

	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()

	for _, w := range waiters {
		w <- payload
	}

	for _, id := range dropped {
		logger.Warn("Dropped slow subscriber", logger.String("subscriber_id", id))
	}
}

// Subscribe registers a new subscriber. If a snapshot has already been
// published it is queued immediately so new clients never start blank.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID:  uuid.New().String(),
		hub: h,
		ch:  make(chan []byte, subscriberBuffer),
	}
	sub.C = sub.ch

	h.mu.Lock()
	h.subs[sub.ID] = sub
	if h.latest != nil {
		sub.ch <- h.latest
	}
	h.mu.Unlock()

	return sub
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Latest returns the most recently published serialized snapshot, or
// nil when nothing has been published yet.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// WaitNext blocks until the next snapshot is published or the context
// is cancelled. Used by the one-shot snapshot endpoint when no snapshot
// exists yet.
func (h *Hub) WaitNext(ctx context.Context) ([]byte, error) {
	w := make(chan []byte, 1)
	h.mu.Lock()
	h.waiters = append(h.waiters, w)
	h.mu.Unlock()

	select {
	case payload := <-w:
		return payload, nil
	case <-ctx.Done():
		h.mu.Lock()
		for i, cand := range h.waiters {
			if cand == w {
				h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
				break
			}
		}
		h.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
