package hub

import (
	"sync"
)

const defaultBuffer = 256

// Subscriber receives every event broadcast for one session.
type Subscriber struct {
	sessionID string
	ch        chan any
	closeOnce sync.Once
}

// Events is the subscriber's receive channel. Closed on unsubscribe.
func (s *Subscriber) Events() <-chan any { return s.ch }

// Hub fans scheduler events out to all subscribers of a session. Delivery is
// at-most-once per subscriber: a saturated subscriber queue drops the event
// rather than stalling the scheduler.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscriber]struct{}
	onDrop func(sessionID string)
}

func New(onDrop func(sessionID string)) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		onDrop: onDrop,
	}
}

func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan any, defaultBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	set := h.subs[sub.sessionID]
	if set != nil {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sub.sessionID)
			}
		}
	}
	h.mu.Unlock()
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// Publish delivers an event to all current subscribers of the session.
func (h *Hub) Publish(sessionID string, event any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- event:
		default:
			if h.onDrop != nil {
				h.onDrop(sessionID)
			}
		}
	}
}

// SubscriberCount reports how many subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
