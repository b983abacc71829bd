package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketPatch describes a partial update. Nil fields are left untouched, so
// each triage step commits only the columns it owns.
type TicketPatch struct {
	Status        *domain.TicketStatus
	Priority      *domain.TicketPriority
	HelpfulNotes  *string
	RelatedSkills *[]string
	AssignedTo    **int64
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	Update(ctx context.Context, id int64, patch TicketPatch) error
	ListForRequester(ctx context.Context, userID int64, limit, offset int) ([]domain.Ticket, error)
	ListAll(ctx context.Context, limit, offset int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, related_skills, created_by)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.RelatedSkills,
		ticket.CreatedBy,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	const query = `
        SELECT id, title, description, status, priority, helpful_notes, related_skills,
               assigned_to, created_by, created_at, updated_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.HelpfulNotes,
		&ticket.RelatedSkills,
		&ticket.AssignedTo,
		&ticket.CreatedBy,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Update applies the patch as a single UPDATE, so each write is atomic at the
// row level. Missing rows surface as pgx.ErrNoRows.
func (r *ticketRepository) Update(ctx context.Context, id int64, patch TicketPatch) error {
	sets := []string{}
	args := []any{}

	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if patch.Priority != nil {
		args = append(args, *patch.Priority)
		sets = append(sets, fmt.Sprintf("priority=$%d", len(args)))
	}
	if patch.HelpfulNotes != nil {
		args = append(args, *patch.HelpfulNotes)
		sets = append(sets, fmt.Sprintf("helpful_notes=$%d", len(args)))
	}
	if patch.RelatedSkills != nil {
		args = append(args, *patch.RelatedSkills)
		sets = append(sets, fmt.Sprintf("related_skills=$%d", len(args)))
	}
	if patch.AssignedTo != nil {
		args = append(args, *patch.AssignedTo)
		sets = append(sets, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at=NOW()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE tickets SET %s WHERE id=$%d", strings.Join(sets, ", "), len(args))

	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListForRequester(ctx context.Context, userID int64, limit, offset int) ([]domain.Ticket, error) {
	const query = `
        SELECT id, title, description, status, priority, helpful_notes, related_skills,
               assigned_to, created_by, created_at, updated_at
        FROM tickets WHERE created_by=$1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, normalizeLimit(limit), normalizeOffset(offset))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.Ticket, error) {
	const query = `
        SELECT id, title, description, status, priority, helpful_notes, related_skills,
               assigned_to, created_by, created_at, updated_at
        FROM tickets
        ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, normalizeLimit(limit), normalizeOffset(offset))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&ticket.HelpfulNotes,
			&ticket.RelatedSkills,
			&ticket.AssignedTo,
			&ticket.CreatedBy,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
