// Package notify relays semantic events to external channels. Delivery is
// asynchronous and best-effort: failures are logged and never reach the
// operation that raised the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/internal/domain"
)

// Sink delivers one event to one channel
type Sink interface {
	Name() string
	Send(ctx context.Context, e domain.Event) error
}

// Config holds emitter settings
type Config struct {
	Buffer  int
	Workers int
	// Timeout bounds one sink delivery
	Timeout time.Duration
}

// Emitter implements domain.Notifier over a set of sinks
type Emitter struct {
	sinks   []Sink
	events  chan domain.Event
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an Emitter and starts its workers
func NewEmitter(cfg Config, sinks ...Sink) *Emitter {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	e := &Emitter{
		sinks:   sinks,
		events:  make(chan domain.Event, cfg.Buffer),
		timeout: cfg.Timeout,
	}

	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

// Notify queues e for delivery. It never blocks: when the buffer is full the
// event is dropped and logged.
func (e *Emitter) Notify(_ context.Context, ev domain.Event) {
	if len(e.sinks) == 0 {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}

	select {
	case e.events <- ev:
	default:
		log.WithField("event", ev.Type).Warn("notification buffer full, event dropped")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) work() {
	defer e.wg.Done()

	for ev := range e.events {
		if err := Deliver(context.Background(), e.timeout, ev, e.sinks...); err != nil {
			log.WithError(err).WithField("event", ev.Type).Warn("notification delivery failed")
		}
	}
}

// Deliver sends ev to every sink synchronously, each bounded by timeout. One
// sink's failure does not stop the others; all failures are returned joined.
func Deliver(ctx context.Context, timeout time.Duration, ev domain.Event, sinks ...Sink) error {
	var errs []error

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := s.Send(sctx, ev)
		cancel()

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Filter restricts a sink to a set of event types
type Filter struct {
	Sink
	types map[domain.EventType]bool
}

// Only wraps s so it only receives the listed event types
func Only(s Sink, types ...domain.EventType) *Filter {
	m := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return &Filter{Sink: s, types: m}
}

func (f *Filter) Send(ctx context.Context, e domain.Event) error {
	if !f.types[e.Type] {
		return nil
	}
	return f.Sink.Send(ctx, e)
}
