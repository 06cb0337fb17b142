// Package bus carries mutation-hook events from the Dispatcher to any
// number of fan-out consumers, in-memory within a single process or over
// NATS across a deployment. Every event this package ever carries is one
// of the fixed mutation-hook types, always scoped to a tenant, and is
// fired-and-forgotten by the hooks dispatcher — there is deliberately no
// request/reply here, since nothing in the mutation-hook path ever waits
// on a response.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single mutation-hook occurrence, always scoped to the tenant
// it happened in.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // one of the events.* constants
	Source    string                 `json:"source"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      interface{}            `json:"data"`
}

// NewEvent builds an Event, stamping it with a fresh id and the current
// time. tenantID is pulled out of data's "tenant_id" entry when present,
// so callers that already build a fields map (as the hooks dispatcher
// does) don't have to thread it through separately.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	tenantID, _ := data["tenant_id"].(string)
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes one delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus fans mutation-hook events out to subscribers, in-memory or over
// NATS depending on which implementation is wired in.
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription so that only one
	// instance among a group of identically-named consumers (e.g. every
	// replica of an async fan-out worker) receives a given event.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}

