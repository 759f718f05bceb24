// Package runtime handles the channel session and the propagation of its events.
// It orchestrates the system without containing business logic or domain rules.
package runtime

import (
	"context"
	"log/slog"
	"school-pickup/contract"
	"school-pickup/domain/event"
	"school-pickup/runtime/workers"
	"sync"
	"time"
)

const (
	DefaultEventBufferSize = 256
	DefaultSinkTimeout     = 2 * time.Second
)

// Orchestrator owns the event pipeline of one session: the buffered events
// channel the session writes to, the permanent sinks, the listener registry
// and the supervised fanout worker that drains the channel.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	permanentSinks []contract.EventSink
	supervisor     contract.ISupervisor
	registry       contract.IRegistry
	events         chan event.DomainEvent
	sinkTimeout    time.Duration
}

func NewOrchestrator(log *slog.Logger, supervisor *workers.Supervisor, registry *Registry,
	bufferSize int, sinkTimeout time.Duration) *Orchestrator {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBufferSize
	}
	if sinkTimeout <= 0 {
		sinkTimeout = DefaultSinkTimeout
	}
	return &Orchestrator{
		log:         log,
		supervisor:  supervisor,
		registry:    registry,
		events:      make(chan event.DomainEvent, bufferSize),
		sinkTimeout: sinkTimeout,
	}
}

// Events is where the session publishes. Sends must never block.
func (o *Orchestrator) Events() chan<- event.DomainEvent {
	return o.events
}

// Add registers sinks that receive every event before any listener.
// Sinks added after Start are ignored.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.permanentSinks = append(o.permanentSinks, sinks...)
}

func (o *Orchestrator) RegisterListener(listenerID string, sink contract.EventSink) {
	o.registry.Subscribe(listenerID, sink)
}

func (o *Orchestrator) UnregisterListener(listenerID string) {
	o.registry.Unsubscribe(listenerID)
}

// Start prepares the fanout worker, hands it to the supervisor and blocks
// until the supervisor stops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	sinks := append([]contract.EventSink(nil), o.permanentSinks...)
	fanout := workers.NewEventFanout(o.log, sinks, o.registry, o.events, o.sinkTimeout)
	o.supervisor.Add(fanout)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "permanent_sinks", len(sinks))
	o.supervisor.Run(ctx)
}

// Stop cancels the supervised context. Events still buffered are dropped.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}
