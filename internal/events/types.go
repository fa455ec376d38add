// Package events provides an asynchronous, in-process event bus that
// decouples the streaming state machine from anything that wants to observe
// it: the notification package's push dispatchers, metrics, or a future UI.
// Publishing never blocks the publisher on a slow subscriber.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the notification variety carried by an Event.
type Kind string

const (
	// KindStatusChanged fires on every Streamer state transition.
	KindStatusChanged Kind = "status_changed"
	// KindBitrateReady fires exactly once per stream, when the bitrate
	// first becomes estimable.
	KindBitrateReady Kind = "bitrate_ready"
)

// Event is a single notification posted to the bus.
type Event struct {
	Kind      Kind
	StreamID  string
	Timestamp time.Time

	// State-change fields, populated when Kind == KindStatusChanged.
	State     string
	Reason    string
	ErrorText string

	// Bitrate fields, populated when Kind == KindBitrateReady.
	BitRate float64
}

// Consumer processes events pulled off the bus. Implementations must not
// block for long; the bus delivers on a dedicated goroutine per consumer so
// a slow consumer only delays itself, never the publisher or its peers.
type Consumer interface {
	// Name identifies the consumer for logging and stats.
	Name() string

	// ProcessEvent handles one event. A returned error is logged but never
	// stops further delivery.
	ProcessEvent(event Event) error
}

// BusStats contains runtime statistics for monitoring the event bus.
type BusStats struct {
	EventsPublished uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}

// Bus is a fan-out, non-blocking event bus. The zero value is not usable;
// construct with NewBus.
type Bus struct {
	mu        sync.RWMutex
	consumers map[string]chan Event
	queueSize int

	published atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64

	wg sync.WaitGroup
}

// NewBus creates an event bus whose per-consumer queues hold queueSize
// pending events before new events are dropped rather than blocking.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Bus{
		consumers: make(map[string]chan Event),
		queueSize: queueSize,
	}
}

// Subscribe registers a consumer and starts its delivery goroutine. The
// returned func unregisters it and drains its queue.
func (b *Bus) Subscribe(c Consumer) (unsubscribe func()) {
	ch := make(chan Event, b.queueSize)

	b.mu.Lock()
	b.consumers[c.Name()] = ch
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			if err := c.ProcessEvent(event); err != nil {
				b.errored.Add(1)
			}
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.consumers, c.Name())
		b.mu.Unlock()
		close(ch)
	}
}

// Publish fans event out to every subscribed consumer. A consumer whose
// queue is full loses the event rather than stalling the publisher; this
// keeps the Streamer's run loop non-blocking per the core's cooperative
// scheduling model.
func (b *Bus) Publish(event Event) {
	event.Timestamp = event.Timestamp.UTC()
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.consumers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		EventsPublished: b.published.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errored.Load(),
	}
}

// Close unsubscribes all consumers and waits for their goroutines to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	for name, ch := range b.consumers {
		delete(b.consumers, name)
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
