package domain

import "time"

// Roles known to the portal.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents an identity stored in the identity store.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Permissions  []string  `json:"permissions,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == "active"
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
