package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/mishalsheza/queue-ease/internal/queue"
)

// AllQueues subscribes an observer to the events of every queue.
const AllQueues = ""

// Observer receives encoded queue events. Deliver must not block; returning
// false tells the hub to drop the observer.
type Observer interface {
	Deliver(msg []byte) bool
}

// Hub keeps observers grouped by queue ID and fans events out to them.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]map[Observer]struct{}
	log       *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{observers: make(map[string]map[Observer]struct{}), log: log}
}

func (h *Hub) Subscribe(queueID string, o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.observers[queueID]
	if !ok {
		set = make(map[Observer]struct{})
		h.observers[queueID] = set
	}
	set[o] = struct{}{}
}

// Unsubscribe removes o and reports whether it was subscribed.
func (h *Hub) Unsubscribe(queueID string, o Observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remove(queueID, o)
}

func (h *Hub) remove(queueID string, o Observer) bool {
	set, ok := h.observers[queueID]
	if !ok {
		return false
	}
	if _, ok := set[o]; !ok {
		return false
	}
	delete(set, o)
	if len(set) == 0 {
		delete(h.observers, queueID)
	}
	return true
}

// Count returns the number of observers subscribed to queueID.
func (h *Hub) Count(queueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers[queueID])
}

// Publish encodes e and delivers it to the queue's observers and to the
// all-queues observers.
func (h *Hub) Publish(e queue.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.log.Error("encode queue event", "queue_id", e.QueueID, "error", err)
		return
	}
	h.Broadcast(e.QueueID, payload)
}

// Broadcast delivers an already encoded event. Observers that refuse it are
// dropped.
func (h *Hub) Broadcast(queueID string, payload []byte) {
	type target struct {
		key string
		o   Observer
	}
	var dropped []target

	h.mu.RLock()
	keys := []string{queueID}
	if queueID != AllQueues {
		keys = append(keys, AllQueues)
	}
	for _, key := range keys {
		for o := range h.observers[key] {
			if !o.Deliver(payload) {
				dropped = append(dropped, target{key, o})
			}
		}
	}
	h.mu.RUnlock()

	if len(dropped) == 0 {
		return
	}
	h.mu.Lock()
	for _, d := range dropped {
		h.remove(d.key, d.o)
	}
	h.mu.Unlock()
	h.log.Warn("dropped slow observers", "queue_id", queueID, "count", len(dropped))
}
