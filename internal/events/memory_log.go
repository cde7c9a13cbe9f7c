package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is the process-lifetime Log implementation.
type MemoryLog struct {
	mu     sync.RWMutex
	events []EmergencyEvent
	nextID int64
	clock  func() time.Time
}

// NewMemoryLog constructs an empty log. A nil clock defaults to time.Now.
func NewMemoryLog(clock func() time.Time) *MemoryLog {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLog{clock: clock}
}

// Append stores the event and returns it with its assigned ID and CreatedAt.
func (l *MemoryLog) Append(_ context.Context, event EmergencyEvent) (EmergencyEvent, error) {
	if err := validateEvent(event); err != nil {
		return EmergencyEvent{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var previous time.Time
	if len(l.events) > 0 {
		previous = l.events[len(l.events)-1].CreatedAt
	}
	l.nextID++
	event.ID = l.nextID
	event.CreatedAt = nextTimestamp(l.clock(), previous)
	l.events = append(l.events, event)
	return event, nil
}

// FetchSince returns events created strictly after since, oldest first.
func (l *MemoryLog) FetchSince(_ context.Context, since time.Time) ([]EmergencyEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].CreatedAt.After(since)
	})
	result := make([]EmergencyEvent, len(l.events)-start)
	copy(result, l.events[start:])
	return result, nil
}
