package events

import (
	"context"
	"sync"
	"time"
)

// Publisher is the seam domain services emit through. Emit must be cheap
// and must not fail a domain transition: a state change that committed is
// announced best-effort.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Sink is where the worker lands events: Kafka in deployment, memory in
// tests.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// ChannelPublisher decouples emitters from sink latency via a buffered
// inbox. When the inbox is full the event is dropped rather than blocking
// a domain transition.
type ChannelPublisher struct {
	inbox chan Event
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelPublisher{inbox: make(chan Event, buffer)}
}

func (p *ChannelPublisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
	}
	return nil
}

// Inbox exposes the channel for the consuming worker.
func (p *ChannelPublisher) Inbox() <-chan Event {
	return p.inbox
}

// Worker consumes events from the publisher inbox and lands them in the
// sink. It keeps background processing testable without wiring queue
// implementations into services.
type Worker struct {
	sink  Sink
	inbox <-chan Event
}

func NewWorker(sink Sink, inbox <-chan Event) *Worker {
	return &Worker{sink: sink, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}

// MemorySink records events for assertions in tests and for single-node
// deployments without Kafka.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events...)
}

// NopPublisher satisfies Publisher where event delivery is not wired.
type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, Event) error { return nil }

// SinkPublisher emits synchronously into a sink, bypassing the worker.
// Test suites use it so emitted events are visible without goroutines.
type SinkPublisher struct {
	sink Sink
}

func NewSinkPublisher(sink Sink) *SinkPublisher {
	return &SinkPublisher{sink: sink}
}

func (p *SinkPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.sink.Append(ctx, event)
}
