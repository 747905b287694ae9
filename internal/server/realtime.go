package server

import (
	"context"
	"sync"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

const defaultRealtimeBufferSize = 16

// RealtimeDispatcher fans committed note changes out to every open stream of the owning user.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[notes.UserID]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan notes.ChangeEvent
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[notes.UserID]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBufferSize,
	}
}

// Subscribe registers a stream for the user until ctx is done or the cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID notes.UserID) (<-chan notes.ChangeEvent, func()) {
	if userID == "" {
		ch := make(chan notes.ChangeEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan notes.ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishChange delivers the event to the user's subscribers. Slow subscribers drop events
// rather than block the writer.
func (d *RealtimeDispatcher) PublishChange(userID notes.UserID, event notes.ChangeEvent) {
	if userID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[userID]
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
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open streams for the user.
func (d *RealtimeDispatcher) SubscriberCount(userID notes.UserID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID notes.UserID, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID notes.UserID, subscriberID int64) {
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
