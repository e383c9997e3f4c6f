// Package sink is the in-process publish/subscribe channel for token
// streams. Subscribers key on (conversationID, messageID) and receive
// token fragments followed by exactly one terminal complete or error
// event.
package sink

import (
	"sync"

	"inferd/internal/core"
)

// EventType discriminates sink events.
type EventType string

const (
	EventToken    EventType = "token"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Key addresses one streamed response.
type Key struct {
	ConversationID string
	MessageID      string
}

// Event is one notification on a response channel.
type Event struct {
	Type EventType `json:"type"`

	// Token fragment (EventToken).
	Token string `json:"token,omitempty"`

	// Terminal completion payload (EventComplete).
	Sanitized string     `json:"sanitized,omitempty"`
	Usage     *core.Usage `json:"usage,omitempty"`
	ElapsedMs int64      `json:"elapsed_ms,omitempty"`
	// Aborted marks a client-cancelled stream; accumulated content was
	// kept but generation did not run to completion.
	Aborted bool `json:"aborted,omitempty"`
	// Degraded marks a guard-tripped soft termination. Reason names the
	// termination pattern.
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Error message (EventError).
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends the channel.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// subscriberBuffer bounds each subscriber channel. A subscriber that
// stops draining loses tokens rather than blocking the stream.
const subscriberBuffer = 512

// Broker fan-outs events per key. Channels are closed after the terminal
// event; a second terminal publish for the same key is dropped.
type Broker struct {
	mu   sync.Mutex
	subs map[Key][]chan Event
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{subs: make(map[Key][]chan Event)}
}

// Subscribe registers for events on key. The returned cancel function
// removes the subscription; it is safe to call after the channel closed.
func (b *Broker) Subscribe(key Key) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[key]
		for i, c := range chans {
			if c == ch {
				b.subs[key] = append(chans[:i], chans[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel
}

// Token publishes one token fragment.
func (b *Broker) Token(key Key, token string) {
	b.publish(key, Event{Type: EventToken, Token: token})
}

// Complete publishes the terminal success event and closes the key's
// channels.
func (b *Broker) Complete(key Key, ev Event) {
	ev.Type = EventComplete
	b.terminal(key, ev)
}

// Error publishes the terminal error event and closes the key's
// channels.
func (b *Broker) Error(key Key, message string) {
	b.terminal(key, Event{Type: EventError, Message: message})
}

func (b *Broker) publish(key Key, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[key] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the stream.
		}
	}
}

func (b *Broker) terminal(key Key, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chans, ok := b.subs[key]
	if !ok {
		return
	}
	delete(b.subs, key)
	for _, ch := range chans {
		// The terminal event must not be lost: block-free best effort
		// first, then close. The buffer is large enough that only a
		// pathologically stalled subscriber misses it.
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
}
