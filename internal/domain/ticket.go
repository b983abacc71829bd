package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusTodo       TicketStatus = "TODO"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates urgency as estimated by triage.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// ValidPriority reports whether p is one of the known priority values.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests. HelpfulNotes, RelatedSkills
// and AssignedTo are filled in asynchronously by the triage pipeline and may
// never arrive; readers must treat them as eventually consistent.
type Ticket struct {
	ID            int64
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	HelpfulNotes  *string
	RelatedSkills []string
	AssignedTo    *int64
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
