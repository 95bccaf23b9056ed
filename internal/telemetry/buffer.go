package telemetry

import (
	"sync"
	"time"
)

// EventBuffer is a bounded, time-limited buffer of events for replay.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []Event
	capacity  int
	retention time.Duration
}

// NewEventBuffer creates a buffer holding at most capacity events. A positive
// retention also drops events older than retention.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{
		events:    make([]Event, 0, capacity),
		capacity:  capacity,
		retention: retention,
	}
}

// AddEvent appends an event, evicting the oldest beyond capacity or retention.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.at.IsZero() {
		event.at = time.Now()
	}
	b.events = append(b.events, event)

	if len(b.events) > b.capacity {
		b.events = append(b.events[:0:0], b.events[len(b.events)-b.capacity:]...)
	}

	if b.retention > 0 {
		cutoff := event.at.Add(-b.retention)
		drop := 0
		for drop < len(b.events) && b.events[drop].at.Before(cutoff) {
			drop++
		}
		if drop > 0 {
			b.events = append(b.events[:0:0], b.events[drop:]...)
		}
	}
}

// GetEventsAfter returns the buffered events with an id above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current number of buffered events.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
