package events

import (
	"context"
	"sync"
)

// memoryQueue is a channel-backed queue for tests and redis-less development.
type memoryQueue struct {
	mu       sync.Mutex
	channels map[EventType]chan Event
	closed   chan struct{}
	once     sync.Once
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue() *memoryQueue {
	return &memoryQueue{
		channels: make(map[EventType]chan Event),
		closed:   make(chan struct{}),
	}
}

func (q *memoryQueue) channel(eventType EventType) chan Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.channels[eventType]
	if !ok {
		ch = make(chan Event, 128)
		q.channels[eventType] = ch
	}
	return ch
}

func (q *memoryQueue) Publish(ctx context.Context, event Event) error {
	select {
	case q.channel(event.Type) <- event:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context, eventType EventType) (Event, error) {
	select {
	case event := <-q.channel(eventType):
		return event, nil
	case <-q.closed:
		return Event{}, ErrQueueClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close releases blocked consumers.
func (q *memoryQueue) Close() {
	q.once.Do(func() { close(q.closed) })
}
