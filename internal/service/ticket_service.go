package service

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// TicketService coordinates ticket creation and role-scoped reads. Creation
// is synchronous; triage enrichment arrives later via the pipeline.
type TicketService struct {
	tickets repository.TicketRepository
	queue   events.Queue
	logger  *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Queue      events.Queue
	Logger     *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets: deps.TicketRepo,
		queue:   deps.Queue,
		logger:  deps.Logger,
	}
}

// CreateTicket writes the row and emits ticket/created. The caller gets a
// TODO/medium ticket back immediately even if triage never runs.
func (s *TicketService) CreateTicket(ctx context.Context, userID int64, title, description string) (*domain.Ticket, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}

	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusTodo,
		Priority:      domain.TicketPriorityMedium,
		RelatedSkills: []string{},
		CreatedBy:     userID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	event, err := events.NewEvent(events.EventTicketCreated, events.TicketCreatedPayload{
		TicketID:    strconv.FormatInt(ticket.ID, 10),
		Title:       ticket.Title,
		Description: ticket.Description,
		CreatedBy:   strconv.FormatInt(userID, 10),
	})
	if err == nil {
		err = s.queue.Publish(ctx, event)
	}
	if err != nil {
		// The ticket row exists; triage just will not start. Surface in the
		// log rather than failing the creation.
		s.logger.Error("publish ticket/created",
			zap.Int64("ticket_id", ticket.ID),
			zap.Error(err))
	}
	return ticket, nil
}

// ListTickets returns all tickets for staff, or the caller's own for users.
func (s *TicketService) ListTickets(ctx context.Context, caller *domain.User, limit, offset int) ([]domain.Ticket, error) {
	if caller.IsStaff() {
		tickets, err := s.tickets.ListAll(ctx, limit, offset)
		return tickets, apperrors.MapError(err)
	}
	tickets, err := s.tickets.ListForRequester(ctx, caller.ID, limit, offset)
	return tickets, apperrors.MapError(err)
}

// GetTicket fetches one ticket, enforcing the visibility scope: staff see
// any ticket, users only their own.
func (s *TicketService) GetTicket(ctx context.Context, caller *domain.User, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !caller.IsStaff() && ticket.CreatedBy != caller.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}
