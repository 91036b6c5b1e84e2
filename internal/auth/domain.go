package auth

import (
	"time"

	"github.com/propdesk/propdesk/internal/rbac"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         rbac.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subject projects the account onto the authorization model.
func (u *User) Subject() *rbac.Subject {
	if u == nil {
		return nil
	}
	return &rbac.Subject{ID: u.ID, Email: u.Email, Role: u.Role, IsActive: u.IsActive}
}
