package workers

import (
	"context"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain/event"
	"time"
)

// EventFanout delivers session events to permanent sinks and registered listeners.
//
// Events are delivered one at a time and sinks are called sequentially, so every
// sink observes events in the order the session produced them. Each Consume call
// gets its own sinkTimeout deadline; a failing sink is logged and skipped.
//
// EventFanout is not a message broker: nothing is retried or persisted.
type EventFanout struct {
	log            *slog.Logger
	permanentSinks []contract.EventSink
	registry       contract.IRegistry
	events         <-chan event.DomainEvent
	sinkTimeout    time.Duration
}

func NewEventFanout(log *slog.Logger, permanentSinks []contract.EventSink, registry contract.IRegistry,
	events <-chan event.DomainEvent, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{
		log:            log,
		permanentSinks: permanentSinks,
		registry:       registry,
		events:         events,
		sinkTimeout:    sinkTimeout,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout hands one event to permanent sinks first, then to listeners.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	sinks := append([]contract.EventSink(nil), w.permanentSinks...)
	sinks = append(sinks, w.registry.Sinks()...)
	for _, sink := range sinks {
		w.deliver(ctx, sink, evt)
	}
}

func (w *EventFanout) deliver(ctx context.Context, sink contract.EventSink, evt event.DomainEvent) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Warn("Sink failed to consume event", "event", evt.Name(), "error", err)
	}
}
