// Package ws implements the WebSocket event stream for orchestration
// runs. Clients subscribe to a session ID and receive run lifecycle
// events as they happen instead of polling the run endpoint.
package ws

import (
	"sync"
	"time"
)

// EventType discriminates run lifecycle events.
type EventType string

const (
	EventSubscribed  EventType = "subscribed"
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
)

// Event is one run lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
}

// subscriber channel buffer. Slow clients drop events rather than
// blocking the publisher.
const subscriberBuffer = 16

// Bus fans run events out to per-session subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers interest in one session's events. The returned
// cancel func must be called when the subscriber goes away.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its session.
// Never blocks; events to full subscriber buffers are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// RunStarted publishes a run_started event.
func (b *Bus) RunStarted(sessionID string) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: EventRunStarted, SessionID: sessionID})
}

// RunFinished publishes a run_finished event with the final outcome.
func (b *Bus) RunFinished(sessionID, message string, success bool, iterations int) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Type:       EventRunFinished,
		SessionID:  sessionID,
		Message:    message,
		Success:    &success,
		Iterations: iterations,
	})
}
