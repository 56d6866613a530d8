// Package realtime is a small in-process pubsub for image change
// notifications. Subscribers receive events over plain channels; slow ones
// lose events rather than stall the publisher.
package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quickcull/cullingbackend/models"
)

const subscriberQueueSize = 256

// Event is one notification delivered to subscribers.
type Event struct {
	Type      string                 `json:"type"` // "sidecar_changed", "analysis_completed", ...
	Filename  string                 `json:"filename,omitempty"`
	Change    models.ChangeType      `json:"change,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// event type names published by the orchestrator
const (
	EventSidecarChanged    = "sidecar_changed"
	EventAnalysisCompleted = "analysis_completed"
	EventPickChanged       = "pick_changed"
	EventCacheRebuilt      = "cache_rebuilt"
	EventImageRemoved      = "image_removed"
)

type subscriber struct {
	id string
	ch chan Event
}

// Hub fans events out to all current subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed on Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan Event) {
	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, subscriberQueueSize),
	}
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber without blocking. A
// subscriber with a full queue misses the event.
func (h *Hub) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			log.Printf("realtime: subscriber %s queue full, dropping event %s", sub.id, event.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
