// Package hooks implements the mutation-hook integration seam: a single
// optional application-scope callback, fired best-effort for every
// mutation, plus an adapter that republishes the same event onto the
// event bus for durable-ish fan-out. The core never performs network I/O
// itself outside of this dispatch loop.
package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/awebhq/aweb/internal/common/appctx"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/events/bus"
)

// busPublishTimeout bounds how long a detached event-bus publish may run
// after the triggering request has returned or been cancelled.
const busPublishTimeout = 5 * time.Second

// Callback receives (event_type, context_dict) for every mutation. Any
// error it returns is caught and logged; it never propagates to the
// request path.
type Callback func(ctx context.Context, eventType string, fields map[string]any) error

// Dispatcher fires the registered Callback and republishes onto Bus.
// Either may be nil: a nil Callback means no deployer hook is installed; a
// nil Bus means no durable-ish fan-out (events are still delivered to
// Callback).
type Dispatcher struct {
	callback  Callback
	bus       bus.EventBus
	namespace string
	log       *logger.Logger
}

// New builds a Dispatcher. callback and eventBus may both be nil. namespace
// is prefixed onto every published subject (config.EventsConfig.Namespace)
// so multiple deployments sharing a NATS cluster don't cross-subscribe.
func New(callback Callback, eventBus bus.EventBus, namespace string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{callback: callback, bus: eventBus, namespace: namespace, log: log.WithFields()}
}

// Fire dispatches eventType with fields to the registered callback and the
// event bus. It never returns an error: every failure (including a panic
// inside the callback) is caught and logged so the request path that
// triggered the mutation is never failed by a hook.
func (d *Dispatcher) Fire(ctx context.Context, eventType string, fields map[string]any) {
	d.invokeCallback(ctx, eventType, fields)
	d.publishToBus(ctx, eventType, fields)
}

func (d *Dispatcher) invokeCallback(ctx context.Context, eventType string, fields map[string]any) {
	if d.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(fmt.Sprintf("mutation hook callback panicked for %s: %v", eventType, r))
		}
	}()
	if err := d.callback(ctx, eventType, fields); err != nil {
		d.log.WithError(err).Error("mutation hook callback failed for " + eventType)
	}
}

// publishToBus fires the event-bus leg in a detached, timeout-bounded
// context: a NATS publish must not be torn down just because the request
// that triggered it already returned or the caller disconnected.
func (d *Dispatcher) publishToBus(ctx context.Context, eventType string, fields map[string]any) {
	if d.bus == nil {
		return
	}
	detached, cancel := appctx.Detached(ctx, busPublishTimeout)
	go func() {
		defer cancel()
		evt := bus.NewEvent(eventType, "aweb", fields)
		subject := events.BuildHookSubject(d.namespace, eventType)
		if err := d.bus.Publish(detached, subject, evt); err != nil {
			d.log.WithError(err).Error("mutation hook bus publish failed for " + eventType)
		}
	}()
}
