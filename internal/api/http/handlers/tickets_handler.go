package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

// TicketsHandler exposes ticket endpoints.
type TicketsHandler struct {
	tickets *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: ticketService}
}

// Create handles POST /tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	caller, ok := auth.UserFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	ticket, err := h.tickets.CreateTicket(c.Context(), caller.ID, req.Title, req.Description)
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"message": "ticket created and triage started",
		"ticket":  dto.NewUserTicketResponse(ticket),
	})
}

// List handles GET /tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	caller, ok := auth.UserFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	tickets, err := h.tickets.ListTickets(c.Context(), caller, limit, offset)
	if err != nil {
		return err
	}

	if caller.IsStaff() {
		out := make([]dto.TicketResponse, 0, len(tickets))
		for i := range tickets {
			out = append(out, dto.NewTicketResponse(&tickets[i]))
		}
		return c.JSON(fiber.Map{"tickets": out})
	}

	out := make([]dto.UserTicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, dto.NewUserTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"tickets": out})
}

// Get handles GET /tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	caller, ok := auth.UserFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	ticketID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid ticket id")
	}

	ticket, err := h.tickets.GetTicket(c.Context(), caller, ticketID)
	if err != nil {
		return err
	}

	if caller.IsStaff() {
		return c.JSON(fiber.Map{"ticket": dto.NewTicketResponse(ticket)})
	}
	return c.JSON(fiber.Map{"ticket": dto.NewUserTicketResponse(ticket)})
}
