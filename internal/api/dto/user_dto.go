package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// UserResponse omits the password hash.
type UserResponse struct {
	ID        int64           `json:"id"`
	Email     string          `json:"email"`
	Role      domain.UserRole `json:"role"`
	Skills    []string        `json:"skills"`
	CreatedAt time.Time       `json:"created_at"`
}

// UpdateUserRequest payload for the admin update endpoint.
type UpdateUserRequest struct {
	Email  string          `json:"email"`
	Role   domain.UserRole `json:"role"`
	Skills []string        `json:"skills"`
}

// NewUserResponse maps a user into the API shape.
func NewUserResponse(u *domain.User) UserResponse {
	skills := u.Skills
	if skills == nil {
		skills = []string{}
	}
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Skills:    skills,
		CreatedAt: u.CreatedAt,
	}
}
