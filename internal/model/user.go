// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User represents an account stored on the server. The password is stored only as a bcrypt hash.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"` // unique, immutable
	PwdHash      []byte    `json:"-"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ProfileUpdate carries the mutable identity fields. Nil pointers leave a field unchanged.
type ProfileUpdate struct {
	Username     *string
	ProfileImage *string
	OldPassword  string
	NewPassword  string // empty keeps the current password
}

// Token is a freshly issued session token.
type Token struct {
	Value     string
	ID        string // jti
	ExpiresAt time.Time
}

// Claims are the verified contents of a session token.
type Claims struct {
	UserID    uuid.UUID
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
