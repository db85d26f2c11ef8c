// Package stream fans record-change events out to per-owner subscribers.
// Delivery is at-least-once overall: publishes never block, a subscriber
// whose buffer is full loses the event and is expected to reconcile through
// the pull-based list endpoints on reconnect. Consumers treat events as
// idempotent upserts keyed by record id, so duplicates are harmless.
package stream

import (
	"sync"
	"time"
)

// Event actions.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Tables events can refer to.
const (
	TableConnections   = "connections"
	TableNotifications = "notifications"
)

// Event is one record change on an owner's data.
type Event struct {
	Action    string      `json:"action"`
	Table     string      `json:"table"`
	Record    interface{} `json:"record"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is one subscriber's delivery channel. Close it through
// Hub.Unsubscribe, never by closing C directly.
type Subscription struct {
	C     chan Event
	owner string
	id    int
}

// Hub routes events to every live subscription of the event's owner.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]*Subscription
	buffer int
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[int]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new delivery channel for owner.
func (h *Hub) Subscribe(owner string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		C:     make(chan Event, h.buffer),
		owner: owner,
		id:    h.nextID,
	}
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[int]*Subscription)
	}
	h.subs[owner][sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owned := h.subs[sub.owner]
	if owned == nil {
		return
	}
	if _, ok := owned[sub.id]; !ok {
		return
	}
	delete(owned, sub.id)
	if len(owned) == 0 {
		delete(h.subs, sub.owner)
	}
	close(sub.C)
}

// Publish delivers the event to every subscriber of owner without blocking.
// Subscribers with a full buffer are skipped.
func (h *Hub) Publish(owner string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[owner] {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many live subscriptions owner has.
func (h *Hub) SubscriberCount(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}
