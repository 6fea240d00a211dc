// Package memory contains in-process implementations of repository interfaces.
// They back the memory store driver and the end-to-end tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo is a map-backed UserRepository.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]model.User
	byEmail map[string]uuid.UUID
}

// NewUserRepo returns an empty repository.
func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:    make(map[uuid.UUID]model.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[u.Email]; taken {
		return errs.ErrDuplicateEmail
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.byID[u.ID] = cloneUser(*u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := cloneUser(u)
	return &c, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[u.ID]
	if !ok {
		return errs.ErrNotFound
	}
	cur.Username = u.Username
	cur.PwdHash = append([]byte(nil), u.PwdHash...)
	cur.ProfileImage = u.ProfileImage
	cur.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = cur
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	return nil
}

// Ping always succeeds.
func (r *UserRepo) Ping(context.Context) error { return nil }

func cloneUser(u model.User) model.User {
	u.PwdHash = append([]byte(nil), u.PwdHash...)
	return u
}
