package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// WatchlistRepo keeps entries per owner. Apply holds a per-owner lock for the whole
// read-plan-write cycle, so concurrent mutations of one owner are serialized.
type WatchlistRepo struct {
	mu     sync.Mutex
	owners map[uuid.UUID]*ownerShelf
	now    func() time.Time
}

type ownerShelf struct {
	mu      sync.Mutex
	entries []model.WatchlistEntry
	// dropped is set once DeleteByOwner has removed the shelf from the map.
	dropped bool
}

// NewWatchlistRepo returns an empty repository.
func NewWatchlistRepo() *WatchlistRepo {
	return &WatchlistRepo{
		owners: make(map[uuid.UUID]*ownerShelf),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// lookup returns the owner's shelf or nil. Reads never create shelves.
func (r *WatchlistRepo) lookup(ownerID uuid.UUID) *ownerShelf {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[ownerID]
}

// shelf returns the owner's shelf, creating it on first write.
func (r *WatchlistRepo) shelf(ownerID uuid.UUID) *ownerShelf {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.owners[ownerID]
	if !ok {
		s = &ownerShelf{}
		r.owners[ownerID] = s
	}
	return s
}

// lockShelf returns the owner's live shelf, locked.
func (r *WatchlistRepo) lockShelf(ownerID uuid.UUID) *ownerShelf {
	for {
		s := r.shelf(ownerID)
		s.mu.Lock()
		if !s.dropped {
			return s
		}
		s.mu.Unlock()
		r.forget(ownerID, s)
	}
}

// forget removes s from the map unless it was already replaced.
func (r *WatchlistRepo) forget(ownerID uuid.UUID, s *ownerShelf) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[ownerID] == s {
		delete(r.owners, ownerID)
	}
}

func cloneEntries(in []model.WatchlistEntry) []model.WatchlistEntry {
	out := make([]model.WatchlistEntry, len(in))
	for i, e := range in {
		e.MediaSets = e.MediaSets.Clone()
		out[i] = e
	}
	return out
}

func (r *WatchlistRepo) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.WatchlistEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.lookup(ownerID)
	if s == nil {
		return []model.WatchlistEntry{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries), nil
}

func (r *WatchlistRepo) DeleteByID(ctx context.Context, ownerID, entryID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.lookup(ownerID)
	if s == nil {
		return errs.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = slices.DeleteFunc(s.entries, func(e model.WatchlistEntry) bool { return e.ID == entryID })
	if len(s.entries) == n {
		return errs.ErrNotFound
	}
	return nil
}

func (r *WatchlistRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.lookup(ownerID)
	if s == nil {
		return nil
	}
	// an Apply that already holds the shelf finishes first; later ones see dropped
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.dropped = true
	r.forget(ownerID, s)
	return nil
}

func (r *WatchlistRepo) Apply(ctx context.Context, ownerID uuid.UUID, plan repository.PlanFunc) ([]model.WatchlistEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.lockShelf(ownerID)
	defer s.mu.Unlock()

	cs, err := plan(cloneEntries(s.entries))
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		return cloneEntries(s.entries), nil
	}
	out, err := repository.Resolve(ownerID, s.entries, cs, r.now())
	if err != nil {
		return nil, err
	}
	s.entries = out.After
	return cloneEntries(s.entries), nil
}

// Ping always succeeds.
func (r *WatchlistRepo) Ping(context.Context) error { return nil }

// Insert adds a new entry for owner.
func (r *WatchlistRepo) Insert(ctx context.Context, ownerID uuid.UUID, m model.MediaSets) (model.WatchlistEntry, error) {
	return repository.InsertVia(ctx, r.Apply, ownerID, m)
}
