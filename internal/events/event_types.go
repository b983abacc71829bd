package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket/created"
	EventUserSignup    EventType = "user/signup"
)

// Event is the envelope carried over the queue. Payload stays raw JSON so
// the envelope survives serialization without type registries.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// TicketCreatedPayload is the inbound contract of the triage pipeline.
// Identifiers cross this boundary as strings and are parsed before store
// lookups.
type TicketCreatedPayload struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

// UserSignupPayload triggers the welcome mail.
type UserSignupPayload struct {
	Email string `json:"email"`
}

// NewEvent wraps a payload into an envelope with a fresh id and timestamp.
func NewEvent(eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}
