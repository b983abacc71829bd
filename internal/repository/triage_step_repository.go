package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TriageStepRepository persists per-run step results. The (ticket_id,
// step_name) primary key plus upsert makes step completion idempotent.
type TriageStepRepository interface {
	Get(ctx context.Context, ticketID int64, step string) (json.RawMessage, bool, error)
	Put(ctx context.Context, ticketID int64, step string, result json.RawMessage) error
}

type triageStepRepository struct {
	pool *pgxpool.Pool
}

// NewTriageStepRepository instantiates the repository.
func NewTriageStepRepository(pool *pgxpool.Pool) TriageStepRepository {
	return &triageStepRepository{pool: pool}
}

func (r *triageStepRepository) Get(ctx context.Context, ticketID int64, step string) (json.RawMessage, bool, error) {
	const query = `SELECT result FROM triage_steps WHERE ticket_id=$1 AND step_name=$2`
	var result json.RawMessage
	err := r.pool.QueryRow(ctx, query, ticketID, step).Scan(&result)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (r *triageStepRepository) Put(ctx context.Context, ticketID int64, step string, result json.RawMessage) error {
	const query = `
        INSERT INTO triage_steps (ticket_id, step_name, result)
        VALUES ($1,$2,$3)
        ON CONFLICT (ticket_id, step_name)
        DO UPDATE SET result=EXCLUDED.result, completed_at=NOW()`
	_, err := r.pool.Exec(ctx, query, ticketID, step, result)
	return err
}
