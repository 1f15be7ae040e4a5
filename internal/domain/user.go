package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRole separates the two sides of a consultation.
type UserRole string

const (
	RolePatient UserRole = "patient"
	RoleDoctor  UserRole = "doctor"
)

// User represents a platform user. Identity and credentials live in the
// external auth provider; this row carries the profile the platform needs.
// Maps to the users table.
type User struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	Role        UserRole  `json:"role" db:"role"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Specialty   *string   `json:"specialty,omitempty" db:"specialty"` // Doctors only
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayInfo is the minimal identity shown in call and chat surfaces
// (incoming-call banner, conversation header).
type DisplayInfo struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Role        UserRole  `json:"role"`
	Specialty   *string   `json:"specialty,omitempty"`
}

// ToDisplayInfo projects the fields safe to hand to a counterpart.
func (u *User) ToDisplayInfo() *DisplayInfo {
	return &DisplayInfo{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
		Specialty:   u.Specialty,
	}
}
