package repository

import (
	"context"
	"fmt"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// PlanFunc inspects a consistent snapshot of an owner's entries and returns the changes to apply.
// Returning an error aborts without applying anything.
type PlanFunc func(entries []model.WatchlistEntry) (model.Changeset, error)

// WatchlistRepository provides owner-scoped, versioned access to watchlist entries.
type WatchlistRepository interface {
	// FindByOwner returns all entries of owner ordered by creation time. No entries is not an error.
	FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.WatchlistEntry, error)

	// Insert creates a new entry for owner holding m.
	Insert(ctx context.Context, ownerID uuid.UUID, m model.MediaSets) (model.WatchlistEntry, error)

	// DeleteByID removes one entry of owner.
	DeleteByID(ctx context.Context, ownerID, entryID uuid.UUID) error

	// DeleteByOwner removes every entry of owner.
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error

	// Apply runs plan against the owner's entries and applies its changeset atomically,
	// returning the owner's entries as they are after the change.
	// Updates and deletes are version-checked; a mismatch yields errs.ErrVersionConflict
	// and nothing is applied.
	Apply(ctx context.Context, ownerID uuid.UUID, plan PlanFunc) ([]model.WatchlistEntry, error)
}

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ApplyFunc matches WatchlistRepository.Apply.
type ApplyFunc func(ctx context.Context, ownerID uuid.UUID, plan PlanFunc) ([]model.WatchlistEntry, error)

// InsertVia runs a single-insert changeset through apply. Backends share it to implement Insert.
func InsertVia(ctx context.Context, apply ApplyFunc, ownerID uuid.UUID, m model.MediaSets) (model.WatchlistEntry, error) {
	m = m.Normalize()
	if m.Empty() {
		return model.WatchlistEntry{}, fmt.Errorf("%w: entry without media ids", errs.ErrValidation)
	}
	after, err := apply(ctx, ownerID, func([]model.WatchlistEntry) (model.Changeset, error) {
		return model.Changeset{Inserts: []model.MediaSets{m}}, nil
	})
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	// inserted rows come last in the resolved state
	return after[len(after)-1], nil
}
