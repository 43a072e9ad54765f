// Package eventbus fans coordinator events out to presentation adapters
// (MQTT, Lua hooks, history, metrics, ledger) through a bounded worker pool.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeStateUpdated is published after every successful refresh.
	// Data: "state" (*coordinator.State), "seq" (uint64).
	EventTypeStateUpdated EventType = "state_updated"

	// EventTypeRefreshFailed is published when a refresh is classified as an update failure.
	// Data: "error" (error), "seq" (uint64).
	EventTypeRefreshFailed EventType = "refresh_failed"

	// EventTypeCommandCompleted is published once a command has been written and re-read.
	// Data: "command_id", "kind", "key", "value", "wire", "source".
	EventTypeCommandCompleted EventType = "command_completed"

	// EventTypeCommandFailed is published when any phase of a command fails.
	// Data: same as completed plus "error" and "phase".
	EventTypeCommandFailed EventType = "command_failed"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	Type EventType
	Data map[string]interface{}
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// closing is closed to signal publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closing, events are dropped.
func (b *Bus) Publish(event Event) {
	// Sends are non-blocking, so holding the read lock across them is cheap
	// and keeps Close from closing the queue underneath us.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		default:
		}

		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	first := false
	b.closeOnce.Do(func() {
		close(b.closing)
		first = true
	})
	if !first {
		return
	}

	// Publishers observe closing before sending; take the write lock so no
	// Publish is mid-send when the queue is closed.
	b.mu.Lock()
	close(b.workQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}
