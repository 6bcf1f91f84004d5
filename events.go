package memqueue

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a queue lifecycle event.
type EventType string

const (
	EventJobAdded           EventType = "job_added"
	EventJobStarted         EventType = "job_started"
	EventJobCompleted       EventType = "job_completed"
	EventJobRetried         EventType = "job_retried"
	EventJobFailed          EventType = "job_failed"
	EventConcurrencyChanged EventType = "concurrency_changed"
	EventQueuePaused        EventType = "queue_paused"
	EventQueueResumed       EventType = "queue_resumed"
	EventMemoryWarning      EventType = "memory_warning"
	EventMemoryCritical     EventType = "memory_critical"
)

// Event is a tagged lifecycle notification. Only the fields relevant to
// the event type are populated.
type Event struct {
	Type           EventType
	JobID          string        // job_* events
	Attempts       int           // job_* events
	Error          string        // job_retried, job_failed
	MaxConcurrency int           // concurrency_changed, memory_* events
	Memory         *MemoryStatus // memory_* and concurrency_changed events
	Timestamp      time.Time
}

// EventHandler receives queue events. Handlers run synchronously on the
// emitting goroutine, in registration order; they must not block.
type EventHandler func(event Event)

// eventDispatcher fans events out to subscribers with per-subscriber panic
// isolation, so one misbehaving observer cannot break the others or the
// scheduler.
type eventDispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []EventHandler
}

func (d *eventDispatcher) subscribe(fn EventHandler) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, fn)
	d.mu.Unlock()
}

func (d *eventDispatcher) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	handlers := make([]EventHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for i, fn := range handlers {
		d.dispatch(i, fn, event)
	}
}

func (d *eventDispatcher) dispatch(idx int, fn EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "index", idx, "eventType", event.Type, "panic", r)
		}
	}()
	fn(event)
}
