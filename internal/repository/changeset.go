package repository

import (
	"fmt"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Outcome is a changeset resolved against a snapshot.
type Outcome struct {
	After    []model.WatchlistEntry // owner's entries once the changeset is applied
	Inserted []model.WatchlistEntry // new rows, ids assigned, Ver=1
	Updated  []model.WatchlistEntry // rows to write back, Ver already bumped
}

// Resolve checks cs against the snapshot and computes the resulting entries.
// Backends use it to get ids for inserts and the returned state without a second read.
func Resolve(ownerID uuid.UUID, snapshot []model.WatchlistEntry, cs model.Changeset, ts time.Time) (Outcome, error) {
	byID := make(map[uuid.UUID]int, len(snapshot))
	for i, e := range snapshot {
		byID[e.ID] = i
	}

	dropped := make(map[uuid.UUID]bool, len(cs.Deletes))
	for _, d := range cs.Deletes {
		i, ok := byID[d.ID]
		if !ok || snapshot[i].Ver != d.BaseVer {
			return Outcome{}, fmt.Errorf("delete %s: %w", d.ID, errs.ErrVersionConflict)
		}
		dropped[d.ID] = true
	}

	replaced := make(map[uuid.UUID]model.WatchlistEntry, len(cs.Updates))
	var out Outcome
	for _, u := range cs.Updates {
		i, ok := byID[u.ID]
		if !ok || snapshot[i].Ver != u.BaseVer || dropped[u.ID] {
			return Outcome{}, fmt.Errorf("update %s: %w", u.ID, errs.ErrVersionConflict)
		}
		e := snapshot[i]
		e.MediaSets = u.Media.Clone()
		e.Ver++
		e.UpdatedAt = ts
		replaced[u.ID] = e
		out.Updated = append(out.Updated, e)
	}

	for _, e := range snapshot {
		if dropped[e.ID] {
			continue
		}
		if r, ok := replaced[e.ID]; ok {
			e = r
		}
		out.After = append(out.After, e)
	}

	for _, m := range cs.Inserts {
		id, err := uuid.NewV4()
		if err != nil {
			return Outcome{}, err
		}
		e := model.WatchlistEntry{
			ID:        id,
			OwnerID:   ownerID,
			MediaSets: m.Clone(),
			Ver:       1,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		out.Inserted = append(out.Inserted, e)
		out.After = append(out.After, e)
	}
	return out, nil
}
