package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue()
	defer queue.Close()

	event, err := NewEvent(EventTicketCreated, TicketCreatedPayload{
		TicketID:    "17",
		Title:       "Cannot log in",
		Description: "Password rejected",
		CreatedBy:   "4",
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if event.ID == "" {
		t.Fatal("event must carry an id")
	}

	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := queue.Dequeue(context.Background(), EventTicketCreated)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != event.ID || got.Type != EventTicketCreated {
		t.Fatalf("unexpected event: %+v", got)
	}

	var payload TicketCreatedPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TicketID != "17" || payload.CreatedBy != "4" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMemoryQueueIsolatesEventTypes(t *testing.T) {
	queue := NewMemoryQueue()
	defer queue.Close()

	event, err := NewEvent(EventUserSignup, UserSignupPayload{Email: "new@example.com"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := queue.Dequeue(ctx, EventTicketCreated); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout on foreign event type, got %v", err)
	}

	got, err := queue.Dequeue(context.Background(), EventUserSignup)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.Type != EventUserSignup {
		t.Fatalf("type = %s", got.Type)
	}
}

func TestMemoryQueueCloseUnblocksConsumers(t *testing.T) {
	queue := NewMemoryQueue()

	done := make(chan error, 1)
	go func() {
		_, err := queue.Dequeue(context.Background(), EventTicketCreated)
		done <- err
	}()

	queue.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer still blocked after close")
	}
}
