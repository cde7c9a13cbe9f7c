package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/events"
)

const (
	RealtimeEventEmergency = "emergency"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "localshield-backend"
	realtimeBufferSize     = 16
)

// RealtimeMessage is a single event addressed to one connected user.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Event     events.EmergencyEvent
	Timestamp time.Time
}

// RealtimeDispatcher fans emergency events out to per-user subscriber streams.
// Slow subscribers drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for userID that lives until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	d.mu.Lock()
	d.nextID++
	subscriber := &realtimeSubscriber{
		id:     d.nextID,
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(userID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event to every connected recipient.
func (d *RealtimeDispatcher) Publish(userIDs []string, event events.EmergencyEvent) {
	timestamp := d.clock().UTC()
	for _, userID := range userIDs {
		d.deliver(RealtimeMessage{
			UserID:    userID,
			EventType: RealtimeEventEmergency,
			Event:     event,
			Timestamp: timestamp,
		})
	}
}

// SubscriberCount reports the number of open streams for userID.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) deliver(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
