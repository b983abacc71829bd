package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueClosed is returned by Dequeue once the queue is shut down.
var ErrQueueClosed = errors.New("event queue closed")

// Queue transports events between producers and the background workers.
// Delivery is at-least-once: a consumer crash after dequeue loses nothing the
// step log cannot absorb, and a redelivered event is handled idempotently.
type Queue interface {
	Publish(ctx context.Context, event Event) error
	Dequeue(ctx context.Context, eventType EventType) (Event, error)
}

const queueKeyPrefix = "events:"

// redisQueue is a Redis-list backed queue (LPUSH producer, BRPOP consumer).
type redisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a queue on top of an existing Redis client.
func NewRedisQueue(client *redis.Client) Queue {
	return &redisQueue{client: client}
}

func (q *redisQueue) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, queueKeyPrefix+string(event.Type), raw).Err()
}

func (q *redisQueue) Dequeue(ctx context.Context, eventType EventType) (Event, error) {
	for {
		res, err := q.client.BRPop(ctx, 5*time.Second, queueKeyPrefix+string(eventType)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return Event{}, err
		}
		return event, nil
	}
}
