// Package realtime implements RealtimeFanout (spec.md §4.10): a
// per-user set of subscribers receiving a best-effort broadcast of JSON
// event envelopes. Grounded on the per-user subscriber bookkeeping of
// the Goby hub example (subscribers-by-user map, non-blocking send,
// prune-on-full-buffer), but mutex-guarded rather than run through a
// single actor goroutine's channel loop, per spec.md §5's explicit
// discipline for this component ("the SessionSupervisor map and the
// RealtimeFanout subscriber map are multi-writer and use a mutex").
package realtime

import (
	"sync"
)

// EventType enumerates the realtime envelope's "type" field (spec.md §6).
type EventType string

const (
	EventContactsInit    EventType = "contacts:init"
	EventTrackerPoint    EventType = "tracker:point"
	EventTrackerSnapshot EventType = "tracker:snapshot"
	EventInsightsUpdate  EventType = "insights:update"
)

// Envelope is the realtime event envelope fanned out to subscribed
// clients, matching spec.md §6's shape.
type Envelope struct {
	Type      EventType   `json:"type"`
	ContactID int64       `json:"contact_id"`
	Platform  string      `json:"platform"`
	Contacts  interface{} `json:"contacts,omitempty"`
	Point     interface{} `json:"point,omitempty"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
	Insights  interface{} `json:"insights,omitempty"`
}

// Subscriber is one connected client's outbound queue, owned by the
// transport layer (§6) which pushes whatever Broadcast sends onto Send.
type Subscriber struct {
	UserID int64
	Send   chan Envelope
}

// NewSubscriber builds a Subscriber with a bounded outbound queue.
func NewSubscriber(userID int64, queueCap int) *Subscriber {
	return &Subscriber{UserID: userID, Send: make(chan Envelope, queueCap)}
}

// Fanout is the per-process RealtimeFanout: a mutex-guarded set of
// subscribers per user_id.
type Fanout struct {
	mu   sync.Mutex
	subs map[int64]map[*Subscriber]struct{}
}

// New builds an empty Fanout.
func New() *Fanout {
	return &Fanout{subs: make(map[int64]map[*Subscriber]struct{})}
}

// Subscribe registers sub under its UserID. Callers unregister via
// Unsubscribe when the underlying transport connection ends.
func (f *Fanout) Subscribe(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.subs[sub.UserID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		f.subs[sub.UserID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes sub, idempotently.
func (f *Fanout) Unsubscribe(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.UserID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, sub.UserID)
		}
	}
}

// BroadcastToUser sends env (by value, unserialized) to every
// subscriber of userID. A send that would block is treated as a dead
// subscriber: it is dropped and pruned after the loop, never retried.
func (f *Fanout) BroadcastToUser(userID int64, env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.subs[userID]
	if !ok {
		return
	}

	var dead []*Subscriber
	for sub := range set {
		select {
		case sub.Send <- env:
		default:
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		delete(set, sub)
	}
	if len(set) == 0 {
		delete(f.subs, userID)
	}
}
