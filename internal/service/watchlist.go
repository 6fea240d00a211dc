package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/and161185/streamvault/internal/catalog"
	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// WatchlistService defines owner-scoped watchlist operations on (kind, mediaId) tuples.
type WatchlistService interface {
	// Add stores mediaID under kind unless the owner already has it.
	Add(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error)
	// AddMany adds every absent id of m in one change and returns the entry holding them.
	AddMany(ctx context.Context, owner uuid.UUID, m model.MediaSets) (model.WatchlistEntry, bool, error)
	// Remove drops mediaID from every entry; entries left empty are deleted.
	Remove(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error)
	// Toggle removes mediaID if present, otherwise adds it, as one atomic change.
	Toggle(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error)
	IsMember(ctx context.Context, owner uuid.UUID, kind, mediaID string) (bool, error)
	// ListByKind returns the sorted, de-duplicated ids stored under kind.
	ListByKind(ctx context.Context, owner uuid.UUID, kind string) ([]string, error)
	List(ctx context.Context, owner uuid.UUID) ([]model.WatchlistEntry, error)
	DeleteEntry(ctx context.Context, owner, entryID uuid.UUID) error
	// Expand lists one kind together with catalog details for each id.
	Expand(ctx context.Context, owner uuid.UUID, kind string) ([]catalog.Item, error)
	// Details looks a single title up in the catalog.
	Details(ctx context.Context, kind, mediaID string) (catalog.Details, error)
}

type WatchlistServiceImpl struct {
	base
	repo    repository.WatchlistRepository
	catalog catalog.Lookup
	workers int
}

// NewWatchlistService constructs WatchlistService. lookup may be nil when no catalog is configured.
func NewWatchlistService(repo repository.WatchlistRepository, lookup catalog.Lookup, opts ...Option) *WatchlistServiceImpl {
	return &WatchlistServiceImpl{base: newBase(opts), repo: repo, catalog: lookup, workers: 8}
}

func parseTuple(kind, mediaID string) (model.Kind, string, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return "", "", err
	}
	id, err := model.ParseMediaID(mediaID)
	if err != nil {
		return "", "", err
	}
	return k, id, nil
}

func holds(entries []model.WatchlistEntry, k model.Kind, id string) bool {
	return slices.ContainsFunc(entries, func(e model.WatchlistEntry) bool { return e.Contains(k, id) })
}

// planAdd extends the oldest entry, or inserts the first one.
func planAdd(entries []model.WatchlistEntry, k model.Kind, id string) model.Changeset {
	if holds(entries, k, id) {
		return model.Changeset{}
	}
	if len(entries) == 0 {
		var m model.MediaSets
		m.Add(k, id)
		return model.Changeset{Inserts: []model.MediaSets{m}}
	}
	oldest := entries[0]
	m := oldest.MediaSets.Clone()
	m.Add(k, id)
	return model.Changeset{Updates: []model.EntryUpdate{{ID: oldest.ID, BaseVer: oldest.Ver, Media: m}}}
}

// planRemove touches every entry holding id, which also cleans up duplicates.
func planRemove(entries []model.WatchlistEntry, k model.Kind, id string) model.Changeset {
	var cs model.Changeset
	for _, e := range entries {
		if !e.Contains(k, id) {
			continue
		}
		m := e.MediaSets.Clone()
		m.Remove(k, id)
		if m.Empty() {
			cs.Deletes = append(cs.Deletes, model.EntryDelete{ID: e.ID, BaseVer: e.Ver})
		} else {
			cs.Updates = append(cs.Updates, model.EntryUpdate{ID: e.ID, BaseVer: e.Ver, Media: m})
		}
	}
	return cs
}

// mutate runs plan through Apply, retrying once on a version conflict.
func (s *WatchlistServiceImpl) mutate(ctx context.Context, op string, owner uuid.UUID, plan repository.PlanFunc) ([]model.WatchlistEntry, error) {
	var (
		after []model.WatchlistEntry
		err   error
	)
	for attempt := 0; ; attempt++ {
		after, err = bounded(ctx, s.timeout, func(ctx context.Context) ([]model.WatchlistEntry, error) {
			return s.repo.Apply(ctx, owner, plan)
		})
		if !errors.Is(err, errs.ErrVersionConflict) {
			break
		}
		if attempt == 1 {
			err = fmt.Errorf("%w: %v", errs.ErrConflict, err)
			break
		}
		s.rec.ConflictRetry()
		s.log.Debug("watchlist conflict, retrying", zap.String("op", op), zap.String("owner", owner.String()))
	}

	switch {
	case err == nil:
		s.rec.WatchlistMutation(op, "ok")
	case errors.Is(err, errs.ErrConflict):
		s.rec.WatchlistMutation(op, "conflict")
	case errors.Is(err, errs.ErrValidation):
		s.rec.WatchlistMutation(op, "invalid")
	default:
		s.rec.WatchlistMutation(op, "error")
		s.log.Error("watchlist mutation failed", zap.String("op", op), zap.String("owner", owner.String()), zap.Error(err))
	}
	return after, err
}

func (s *WatchlistServiceImpl) Add(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error) {
	k, id, err := parseTuple(kind, mediaID)
	if err != nil {
		return model.Membership{}, err
	}
	var changed bool
	_, err = s.mutate(ctx, "add", owner, func(entries []model.WatchlistEntry) (model.Changeset, error) {
		cs := planAdd(entries, k, id)
		changed = !cs.Empty()
		return cs, nil
	})
	if err != nil {
		return model.Membership{}, err
	}
	return model.Membership{Kind: k, MediaID: id, Member: true, Changed: changed}, nil
}

func (s *WatchlistServiceImpl) AddMany(ctx context.Context, owner uuid.UUID, m model.MediaSets) (model.WatchlistEntry, bool, error) {
	m = m.Normalize()
	if m.Empty() {
		return model.WatchlistEntry{}, false, fmt.Errorf("%w: no media ids given", errs.ErrValidation)
	}
	var (
		changed bool
		target  uuid.UUID
	)
	after, err := s.mutate(ctx, "add_many", owner, func(entries []model.WatchlistEntry) (model.Changeset, error) {
		changed, target = false, uuid.Nil
		var fresh model.MediaSets
		for _, k := range model.Kinds {
			for _, id := range m.IDs(k) {
				if !holds(entries, k, id) {
					fresh.Add(k, id)
				}
			}
		}
		if len(entries) > 0 {
			target = entries[0].ID
		}
		if fresh.Empty() {
			return model.Changeset{}, nil
		}
		changed = true
		if len(entries) == 0 {
			return model.Changeset{Inserts: []model.MediaSets{fresh}}, nil
		}
		merged := entries[0].MediaSets.Clone()
		for _, k := range model.Kinds {
			for _, id := range fresh.IDs(k) {
				merged.Add(k, id)
			}
		}
		return model.Changeset{Updates: []model.EntryUpdate{{ID: target, BaseVer: entries[0].Ver, Media: merged}}}, nil
	})
	if err != nil {
		return model.WatchlistEntry{}, false, err
	}
	if target == uuid.Nil {
		// first entry of the owner: inserted rows come last
		return after[len(after)-1], changed, nil
	}
	for _, e := range after {
		if e.ID == target {
			return e, changed, nil
		}
	}
	return model.WatchlistEntry{}, false, fmt.Errorf("entry %s vanished after add", target)
}

func (s *WatchlistServiceImpl) Remove(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error) {
	k, id, err := parseTuple(kind, mediaID)
	if err != nil {
		return model.Membership{}, err
	}
	var changed bool
	_, err = s.mutate(ctx, "remove", owner, func(entries []model.WatchlistEntry) (model.Changeset, error) {
		cs := planRemove(entries, k, id)
		changed = !cs.Empty()
		return cs, nil
	})
	if err != nil {
		return model.Membership{}, err
	}
	return model.Membership{Kind: k, MediaID: id, Member: false, Changed: changed}, nil
}

func (s *WatchlistServiceImpl) Toggle(ctx context.Context, owner uuid.UUID, kind, mediaID string) (model.Membership, error) {
	k, id, err := parseTuple(kind, mediaID)
	if err != nil {
		return model.Membership{}, err
	}
	var member bool
	_, err = s.mutate(ctx, "toggle", owner, func(entries []model.WatchlistEntry) (model.Changeset, error) {
		if holds(entries, k, id) {
			member = false
			return planRemove(entries, k, id), nil
		}
		member = true
		return planAdd(entries, k, id), nil
	})
	if err != nil {
		return model.Membership{}, err
	}
	return model.Membership{Kind: k, MediaID: id, Member: member, Changed: true}, nil
}

func (s *WatchlistServiceImpl) find(ctx context.Context, owner uuid.UUID) ([]model.WatchlistEntry, error) {
	return bounded(ctx, s.timeout, func(ctx context.Context) ([]model.WatchlistEntry, error) {
		return s.repo.FindByOwner(ctx, owner)
	})
}

func (s *WatchlistServiceImpl) IsMember(ctx context.Context, owner uuid.UUID, kind, mediaID string) (bool, error) {
	k, id, err := parseTuple(kind, mediaID)
	if err != nil {
		return false, err
	}
	entries, err := s.find(ctx, owner)
	if err != nil {
		return false, err
	}
	return holds(entries, k, id), nil
}

func (s *WatchlistServiceImpl) ListByKind(ctx context.Context, owner uuid.UUID, kind string) ([]string, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	entries, err := s.find(ctx, owner)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	for _, e := range entries {
		ids = append(ids, e.IDs(k)...)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (s *WatchlistServiceImpl) List(ctx context.Context, owner uuid.UUID) ([]model.WatchlistEntry, error) {
	entries, err := s.find(ctx, owner)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.WatchlistEntry{}
	}
	return entries, nil
}

func (s *WatchlistServiceImpl) DeleteEntry(ctx context.Context, owner, entryID uuid.UUID) error {
	err := boundedErr(ctx, s.timeout, func(ctx context.Context) error {
		return s.repo.DeleteByID(ctx, owner, entryID)
	})
	if err == nil {
		s.rec.WatchlistMutation("delete_entry", "ok")
	}
	return err
}

func (s *WatchlistServiceImpl) Expand(ctx context.Context, owner uuid.UUID, kind string) ([]catalog.Item, error) {
	ids, err := s.ListByKind(ctx, owner, kind)
	if err != nil {
		return nil, err
	}
	k, _ := model.ParseKind(kind)
	if s.catalog == nil {
		items := make([]catalog.Item, len(ids))
		for i, id := range ids {
			items[i] = catalog.Item{Details: catalog.Details{Kind: k, ID: id}, Status: "unavailable"}
		}
		return items, nil
	}
	return catalog.Expand(ctx, s.catalog, k, ids, s.workers)
}

func (s *WatchlistServiceImpl) Details(ctx context.Context, kind, mediaID string) (catalog.Details, error) {
	k, id, err := parseTuple(kind, mediaID)
	if err != nil {
		return catalog.Details{}, err
	}
	if s.catalog == nil {
		return catalog.Details{}, fmt.Errorf("%w: no catalog configured", errs.ErrUpstream)
	}
	return s.catalog.GetByID(ctx, k, id)
}
