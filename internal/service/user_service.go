package service

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util"
)

// UserService exposes the admin account-management operations.
type UserService struct {
	users repository.UserRepository
}

// NewUserService constructs the service.
func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// ListUsers returns the account directory.
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	users, err := s.users.List(ctx, limit, offset)
	return users, apperrors.MapError(err)
}

// UpdateUser changes a user's role and skills, keyed by email. An empty
// skills list keeps the stored skills.
func (s *UserService) UpdateUser(ctx context.Context, email string, role domain.UserRole, skills []string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return apperrors.NewValidationError("email is required", nil)
	}
	if !domain.ValidRole(role) {
		return apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}
	if skills == nil {
		skills = []string{}
	}

	err := s.users.UpdateByEmail(ctx, email, role, skills)
	if err == pgx.ErrNoRows {
		return apperrors.NewNotFound("user", map[string]any{"email": email})
	}
	return apperrors.MapError(err)
}
