// Package event is the in-process post-commit event bus. The saga publishes
// domain events after it commits; audit, reminder, and notification consumers
// subscribe. A consumer error is logged and counted, never propagated back to
// the publisher, so side effects stay outside the consistency boundary.
package event

import (
	"context"
	"log"
	"sync"
	"time"

	"offer-pipeline/internal/telemetry"
)

// Domain event types.
const (
	TypeOfferAccepted        = "offer_accepted"
	TypeApplicationWithdrawn = "application_withdrawn"
	TypeStateChanged         = "state_changed"
	TypeAcceptanceRolledBack = "acceptance_rolled_back"
)

// Event is a post-commit domain fact.
type Event struct {
	Type          string
	ApplicationID string
	CandidateID   string
	AcceptanceID  string
	PreviousState string
	NewState      string
	Payload       map[string]any
	OccurredAt    time.Time
}

// HandlerFunc consumes one event.
type HandlerFunc func(ctx context.Context, ev Event) error

type subscriber struct {
	name string
	fn   HandlerFunc
}

// Bus dispatches events to subscribers sequentially, in subscription order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscriber)}
}

// Subscribe registers a named handler for one event type.
func (b *Bus) Subscribe(eventType, name string, fn HandlerFunc) {
	if eventType == "" || fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{name: name, fn: fn})
}

// Publish hands the event to every subscriber of its type. Subscriber errors
// are logged and counted; Publish never fails.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers[ev.Type]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.fn(ctx, ev); err != nil {
			telemetry.ConsumerErrors.Inc()
			log.Printf("event %s: consumer %s failed: %v", ev.Type, sub.name, err)
		}
	}
}
