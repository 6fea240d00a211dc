package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// WatchlistRepo implements WatchlistRepository using PostgreSQL.
type WatchlistRepo struct{ db *DB }

// NewWatchlistRepo constructs a watchlist repository.
func NewWatchlistRepo(db *DB) *WatchlistRepo { return &WatchlistRepo{db: db} }

const (
	entrySelect = `
SELECT id, owner_id, movie_ids, show_ids, anime_ids, ver, created_at, updated_at
FROM watchlist_entries
WHERE owner_id=$1
ORDER BY created_at ASC, id ASC`
	entryInsert = `
INSERT INTO watchlist_entries (id, owner_id, movie_ids, show_ids, anime_ids, ver, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	entryUpdate = `
UPDATE watchlist_entries
SET movie_ids=$3, show_ids=$4, anime_ids=$5, ver=$6, updated_at=$7
WHERE id=$1 AND owner_id=$2 AND ver=$8`
	entryDelete = `DELETE FROM watchlist_entries WHERE id=$1 AND owner_id=$2 AND ver=$3`
	ownerLock   = `SELECT id FROM users WHERE id=$1 FOR UPDATE`
)

func scanEntries(rows pgx.Rows) ([]model.WatchlistEntry, error) {
	defer rows.Close()
	var out []model.WatchlistEntry
	for rows.Next() {
		var e model.WatchlistEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.MovieIDs, &e.ShowIDs, &e.AnimeIDs, &e.Ver, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByOwner returns the owner's entries, oldest first.
func (r *WatchlistRepo) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.WatchlistEntry, error) {
	rows, err := r.db.Pool.Query(ctx, entrySelect, ownerID)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// DeleteByID removes one entry of the owner.
func (r *WatchlistRepo) DeleteByID(ctx context.Context, ownerID, entryID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM watchlist_entries WHERE id=$1 AND owner_id=$2`, entryID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteByOwner removes all entries of the owner.
func (r *WatchlistRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM watchlist_entries WHERE owner_id=$1`, ownerID)
	return err
}

// Apply locks the owner row, reads the owner's entries, and writes the planned changeset
// in the same transaction. Concurrent Apply calls for one owner are serialized by the lock.
func (r *WatchlistRepo) Apply(ctx context.Context, ownerID uuid.UUID, plan repository.PlanFunc) (after []model.WatchlistEntry, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, ownerLock, ownerID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}

		rows, err := tx.Query(ctx, entrySelect, ownerID)
		if err != nil {
			return err
		}
		snapshot, err := scanEntries(rows)
		if err != nil {
			return err
		}

		cs, err := plan(snapshot)
		if err != nil {
			return err
		}
		if cs.Empty() {
			after = snapshot
			return nil
		}

		out, err := repository.Resolve(ownerID, snapshot, cs, r.db.clock())
		if err != nil {
			return err
		}

		for _, d := range cs.Deletes {
			tag, err := tx.Exec(ctx, entryDelete, d.ID, ownerID, d.BaseVer)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("delete %s: %w", d.ID, errs.ErrVersionConflict)
			}
		}
		// text[] columns are NOT NULL; pgx encodes a nil slice as NULL.
		for _, e := range out.Updated {
			tag, err := tx.Exec(ctx, entryUpdate,
				e.ID, ownerID, model.OrEmpty(e.MovieIDs), model.OrEmpty(e.ShowIDs), model.OrEmpty(e.AnimeIDs), e.Ver, e.UpdatedAt, e.Ver-1)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("update %s: %w", e.ID, errs.ErrVersionConflict)
			}
		}
		for _, e := range out.Inserted {
			if _, err := tx.Exec(ctx, entryInsert,
				e.ID, ownerID, model.OrEmpty(e.MovieIDs), model.OrEmpty(e.ShowIDs), model.OrEmpty(e.AnimeIDs), e.Ver, e.CreatedAt, e.UpdatedAt); err != nil {
				return err
			}
		}
		after = out.After
		return nil
	})
	if err != nil {
		return nil, err
	}
	return after, nil
}

// Insert adds a new entry for owner.
func (r *WatchlistRepo) Insert(ctx context.Context, ownerID uuid.UUID, m model.MediaSets) (model.WatchlistEntry, error) {
	return repository.InsertVia(ctx, r.Apply, ownerID, m)
}
