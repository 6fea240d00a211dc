// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides CRUD access to identities.
type UserRepository interface {
	// Create inserts a new user. Returns errs.ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by exact email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Update persists username, profile image and password hash.
	Update(ctx context.Context, u *model.User) error
	// Delete removes the user.
	Delete(ctx context.Context, id uuid.UUID) error
}
