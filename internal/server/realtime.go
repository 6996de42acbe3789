package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventEntityChanged = "entity-change"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "taskpilot-backend"
)

// RealtimeMessage tells a device that entities changed server-side, so it
// can pull instead of polling blind. Keyed by user id: all of a user's
// connected devices receive it.
type RealtimeMessage struct {
	UserID     int64
	EventType  string
	EntityType string
	ClientIDs  []string
	Timestamp  time.Time
}

// RealtimeDispatcher is an in-process per-user pub/sub for change
// notifications. Slow subscribers drop messages rather than block writers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID int64) (<-chan RealtimeMessage, func()) {
	if userID <= 0 {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID <= 0 || message.EventType == "" {
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

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID int64, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID int64, subscriberID int64) {
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
