// Package bus is the in-process event feed for operational visibility.
// Components publish lifecycle events (message accepted, turn flushed,
// delivery failed, silence toggled) and the websocket endpoint fans them out
// to connected observers. Delivery is best effort; a slow subscriber drops
// events rather than blocking publishers.
package bus

import (
	"sync"
	"time"
)

// Event kinds published by the gateway.
const (
	EventMessageAccepted = "message.accepted"
	EventMessageIgnored  = "message.ignored"
	EventTurnFlushed     = "turn.flushed"
	EventDeliverySent    = "delivery.sent"
	EventDeliveryFailed  = "delivery.failed"
	EventSilenceStarted  = "silence.started"
	EventSilenceLifted   = "silence.lifted"
	EventHandoffDetected = "handoff.detected"
)

// Event is one operational event. Fields carries event-specific detail and
// must not include message bodies or secrets.
type Event struct {
	Kind         string         `json:"kind"`
	Conversation string         `json:"conversation,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	At           time.Time      `json:"at"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new observer. The caller must Unsubscribe when done.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the observer and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber without blocking. Events to
// a full subscriber buffer are dropped.
func (b *Bus) Publish(kind, conversation string, fields map[string]any) {
	ev := Event{Kind: kind, Conversation: conversation, Fields: fields, At: time.Now().UTC()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports connected observers, surfaced by the health
// endpoint.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
