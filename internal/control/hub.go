// internal/control/hub.go
package control

import (
	"sync"
	"time"

	"github.com/user/warroom/internal/types"
)

// Event is one frame pushed to session watchers.
type Event struct {
	Type      string          `json:"type"`
	SessionID types.SessionID `json:"session_id,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// Event type constants pushed by the control plane.
const (
	EventConnected = "connected"
	EventStatus    = "status"
	EventThought   = "thought"
	EventMessage   = "message"
	EventStopped   = "stopped"
	EventReverted  = "reverted"
)

// Hub is a per-session broadcast bus for watchers. Publishing never blocks
// the turn pipeline: when a subscriber's buffer is full the newest event is
// dropped for that subscriber. Safe to call on a nil receiver (no-op).
type Hub struct {
	mu   sync.RWMutex
	subs map[types.SessionID]map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to a watcher back to
	// the bidirectional channel (and its session) so Unsubscribe can accept
	// the caller's view of the channel.
	recvToSend map[<-chan Event]*subscription
}

type subscription struct {
	session types.SessionID
	ch      chan Event
}

// NewHub creates an empty watcher hub.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[types.SessionID]map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]*subscription),
	}
}

// Publish sends an event to every watcher of the session. Non-blocking:
// full subscribers miss the event rather than stalling the publisher.
func (h *Hub) Publish(sessionID types.SessionID, event Event) {
	if h == nil {
		return
	}
	event.SessionID = sessionID
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- event:
		default:
			// Watcher is full, drop the event for it.
		}
	}
}

// Subscribe registers a watcher for one session. The caller must
// Unsubscribe when done. bufSize bounds how far a slow watcher can lag.
func (h *Hub) Subscribe(sessionID types.SessionID, bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.recvToSend[ch] = &subscription{session: sessionID, ch: ch}
	return ch
}

// Unsubscribe removes a watcher and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.recvToSend[ch]
	if !ok {
		return
	}
	delete(h.subs[sub.session], sub.ch)
	if len(h.subs[sub.session]) == 0 {
		delete(h.subs, sub.session)
	}
	delete(h.recvToSend, ch)
	close(sub.ch)
}

// WatcherCount returns the number of active watchers for a session.
func (h *Hub) WatcherCount(sessionID types.SessionID) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
