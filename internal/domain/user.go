package domain

import "time"

// UserRole determines ticket visibility scope and assignment eligibility.
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"
)

// ValidRole reports whether r is a known role.
func ValidRole(r UserRole) bool {
	switch r {
	case UserRoleUser, UserRoleModerator, UserRoleAdmin:
		return true
	}
	return false
}

// User is the domain model for accounts: end-users who submit tickets and
// the moderators/admins tickets get assigned to.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         UserRole
	Skills       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsStaff reports whether the user sees all tickets with assignee info.
func (u *User) IsStaff() bool {
	return u.Role == UserRoleModerator || u.Role == UserRoleAdmin
}
