package models

import "time"

// Role is the capability level carried in an access token.
type Role string

const (
	RoleUser          Role = "user"
	RoleAdmin         Role = "admin"
	RolePlatformAdmin Role = "platform_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r may operate queues.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RolePlatformAdmin
}

type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	Role         Role      `json:"role" gorm:"size:32;not null;default:user"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
