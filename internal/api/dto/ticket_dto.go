package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TicketResponse is the staff projection: every field plus assignee info.
type TicketResponse struct {
	ID            int64                 `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	HelpfulNotes  *string               `json:"helpful_notes,omitempty"`
	RelatedSkills []string              `json:"related_skills"`
	AssignedTo    *int64                `json:"assigned_to,omitempty"`
	CreatedBy     int64                 `json:"created_by"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// UserTicketResponse is the restricted projection end-users see.
type UserTicketResponse struct {
	ID          int64                 `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedAt   time.Time             `json:"created_at"`
}

// NewTicketResponse maps a ticket into the staff projection.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	skills := t.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return TicketResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		HelpfulNotes:  t.HelpfulNotes,
		RelatedSkills: skills,
		AssignedTo:    t.AssignedTo,
		CreatedBy:     t.CreatedBy,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// NewUserTicketResponse maps a ticket into the end-user projection.
func NewUserTicketResponse(t *domain.Ticket) UserTicketResponse {
	return UserTicketResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		CreatedAt:   t.CreatedAt,
	}
}
