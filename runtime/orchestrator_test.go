package runtime_test

import (
	"context"
	"log/slog"
	"school-pickup/domain"
	"school-pickup/domain/event"
	"school-pickup/runtime"
	"school-pickup/runtime/workers"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type RecordingSink struct {
	mu     sync.Mutex
	name   string
	trace  *[]string
	events []event.DomainEvent
}

func (s *RecordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if s.trace != nil {
		*s.trace = append(*s.trace, s.name)
	}
	return nil
}

func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func Test_Orchestrator_Dispatches_Events_To_Sinks_Then_Listeners(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 10*time.Millisecond),
		runtime.NewRegistry(), 16, time.Second)

	var trace []string
	permanent := &RecordingSink{name: "stats", trace: &trace}
	listener := &RecordingSink{name: "listener", trace: &trace}
	orchestrator.Add(permanent)
	orchestrator.RegisterListener("ui", listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orchestrator.Start(ctx)

	// When the session reports a state change
	orchestrator.Events() <- event.ConnectionStateChanged{From: domain.Disconnected, To: domain.Connecting, At: time.Now()}

	// Then the permanent sink sees it before the listener
	req.Eventually(func() bool { return listener.Len() == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(1, permanent.Len())
	req.Equal([]string{"stats", "listener"}, trace)

	// When the listener leaves, it no longer receives events
	orchestrator.UnregisterListener("ui")
	orchestrator.Events() <- event.ConnectionStateChanged{From: domain.Connecting, To: domain.Subscribed, At: time.Now()}
	req.Eventually(func() bool { return permanent.Len() == 2 }, time.Second, 5*time.Millisecond)
	req.Equal(1, listener.Len())

	orchestrator.Stop()
}

type slowSink struct {
	RecordingSink
	delay time.Duration
}

func (s *slowSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.RecordingSink.Consume(ctx, e)
}

func Test_Orchestrator_Zero_Config_Still_Buffers_And_Delivers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given an orchestrator built without buffer size nor sink timeout
	orchestrator := runtime.NewOrchestrator(log, workers.NewSupervisor(log, 10*time.Millisecond),
		runtime.NewRegistry(), 0, 0)
	sink := &slowSink{delay: 20 * time.Millisecond}
	orchestrator.Add(sink)
	req.Equal(runtime.DefaultEventBufferSize, cap(orchestrator.Events()))

	// When events are published before the fanout runs
	for i := 0; i < 3; i++ {
		select {
		case orchestrator.Events() <- event.ConnectionStateChanged{To: domain.Connecting, At: time.Now()}:
		default:
			req.Fail("event buffer should not be full")
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orchestrator.Start(ctx)

	// Then a sink slower than zero still receives every event
	req.Eventually(func() bool { return sink.Len() == 3 }, time.Second, 5*time.Millisecond)
	orchestrator.Stop()
}
