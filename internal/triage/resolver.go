package triage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// Resolver maps a skill set to an assignee. Policy: any moderator whose
// skills overlap the requested set (no weighting by match count), lowest id
// first so selection is deterministic for a given directory state; otherwise
// the first admin by id; otherwise no assignee, which is a valid outcome.
type Resolver struct {
	users repository.UserRepository
}

// NewResolver builds a resolver over the user directory.
func NewResolver(users repository.UserRepository) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the selected user, or nil when no moderator matches and no
// admin exists.
func (r *Resolver) Resolve(ctx context.Context, skills []string) (*domain.User, error) {
	if len(skills) > 0 {
		moderators, err := r.users.FindModeratorsBySkills(ctx, skills)
		if err != nil {
			return nil, err
		}
		if len(moderators) > 0 {
			return &moderators[0], nil
		}
	}

	admin, err := r.users.FindFirstAdmin(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return admin, nil
}
