package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// StepLog records completed step results per run so a re-executed run skips
// steps whose side effects already committed. Satisfied by
// repository.TriageStepRepository in production.
type StepLog interface {
	Get(ctx context.Context, ticketID int64, step string) (json.RawMessage, bool, error)
	Put(ctx context.Context, ticketID int64, step string, result json.RawMessage) error
}

// MemoryStepLog is an in-process step log for tests and redis-less runs.
type MemoryStepLog struct {
	mu      sync.Mutex
	results map[string]json.RawMessage
}

// NewMemoryStepLog creates an empty step log.
func NewMemoryStepLog() *MemoryStepLog {
	return &MemoryStepLog{results: make(map[string]json.RawMessage)}
}

func (l *MemoryStepLog) Get(_ context.Context, ticketID int64, step string) (json.RawMessage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	result, ok := l.results[stepKey(ticketID, step)]
	return result, ok, nil
}

func (l *MemoryStepLog) Put(_ context.Context, ticketID int64, step string, result json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results[stepKey(ticketID, step)] = result
	return nil
}

func stepKey(ticketID int64, step string) string {
	return fmt.Sprintf("%d:%s", ticketID, step)
}
