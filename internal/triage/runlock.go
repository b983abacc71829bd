package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLocker guards against two concurrent runs for the same ticket, e.g. on
// duplicate event delivery. A held lock means another run is in flight; the
// caller skips the event instead of racing it.
type RunLocker interface {
	Acquire(ctx context.Context, ticketID int64) (bool, error)
	Release(ctx context.Context, ticketID int64) error
}

const lockKeyPrefix = "triage:lock:"

type redisRunLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRunLocker creates a SETNX-based locker. The TTL bounds how long a
// crashed run can block its ticket.
func NewRedisRunLocker(client *redis.Client, ttl time.Duration) RunLocker {
	return &redisRunLocker{client: client, ttl: ttl}
}

func (l *redisRunLocker) Acquire(ctx context.Context, ticketID int64) (bool, error) {
	return l.client.SetNX(ctx, lockKey(ticketID), "1", l.ttl).Result()
}

func (l *redisRunLocker) Release(ctx context.Context, ticketID int64) error {
	return l.client.Del(ctx, lockKey(ticketID)).Err()
}

func lockKey(ticketID int64) string {
	return fmt.Sprintf("%s%d", lockKeyPrefix, ticketID)
}

// MemoryRunLocker is an in-process locker for tests and redis-less runs.
type MemoryRunLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewMemoryRunLocker creates an empty locker.
func NewMemoryRunLocker() *MemoryRunLocker {
	return &MemoryRunLocker{held: make(map[int64]struct{})}
}

func (l *MemoryRunLocker) Acquire(_ context.Context, ticketID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[ticketID]; ok {
		return false, nil
	}
	l.held[ticketID] = struct{}{}
	return true, nil
}

func (l *MemoryRunLocker) Release(_ context.Context, ticketID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, ticketID)
	return nil
}
