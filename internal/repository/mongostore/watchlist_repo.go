package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// shelfDoc holds every entry of one owner, so a mutation is a single-document write
// guarded by the shelf version.
type shelfDoc struct {
	Owner   string     `bson:"_id"`
	Ver     int64      `bson:"ver"`
	Entries []entryDoc `bson:"entries"`
}

type entryDoc struct {
	ID        string    `bson:"id"`
	MovieIDs  []string  `bson:"movie_ids"`
	ShowIDs   []string  `bson:"show_ids"`
	AnimeIDs  []string  `bson:"anime_ids"`
	Ver       int64     `bson:"ver"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d shelfDoc) toModel(ownerID uuid.UUID) ([]model.WatchlistEntry, error) {
	out := make([]model.WatchlistEntry, 0, len(d.Entries))
	for _, e := range d.Entries {
		id, err := uuid.FromString(e.ID)
		if err != nil {
			return nil, fmt.Errorf("entry id %q: %w", e.ID, err)
		}
		out = append(out, model.WatchlistEntry{
			ID:      id,
			OwnerID: ownerID,
			MediaSets: model.MediaSets{
				MovieIDs: e.MovieIDs,
				ShowIDs:  e.ShowIDs,
				AnimeIDs: e.AnimeIDs,
			},
			Ver:       e.Ver,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return out, nil
}

func newShelf(ownerID uuid.UUID, ver int64, entries []model.WatchlistEntry) shelfDoc {
	d := shelfDoc{Owner: ownerID.String(), Ver: ver, Entries: make([]entryDoc, 0, len(entries))}
	for _, e := range entries {
		d.Entries = append(d.Entries, entryDoc{
			ID:        e.ID.String(),
			MovieIDs:  model.OrEmpty(e.MovieIDs),
			ShowIDs:   model.OrEmpty(e.ShowIDs),
			AnimeIDs:  model.OrEmpty(e.AnimeIDs),
			Ver:       e.Ver,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return d
}

// WatchlistRepo implements WatchlistRepository on a MongoDB collection.
type WatchlistRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewWatchlistRepo binds the repository to coll.
func NewWatchlistRepo(coll *mongo.Collection) *WatchlistRepo {
	return &WatchlistRepo{coll: coll, now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }}
}

func (r *WatchlistRepo) load(ctx context.Context, ownerID uuid.UUID) (shelfDoc, bool, error) {
	var d shelfDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": ownerID.String()}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return shelfDoc{}, false, nil
	}
	return d, err == nil, err
}

func (r *WatchlistRepo) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.WatchlistEntry, error) {
	d, _, err := r.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return d.toModel(ownerID)
}

func (r *WatchlistRepo) DeleteByID(ctx context.Context, ownerID, entryID uuid.UUID) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": ownerID.String(), "entries.id": entryID.String()},
		bson.M{
			"$pull": bson.M{"entries": bson.M{"id": entryID.String()}},
			"$inc":  bson.M{"ver": 1},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *WatchlistRepo) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": ownerID.String()})
	return err
}

// Apply reads the owner's shelf, plans, and writes the shelf back only if its version
// is unchanged. A concurrent writer makes the write miss and yields ErrVersionConflict.
func (r *WatchlistRepo) Apply(ctx context.Context, ownerID uuid.UUID, plan repository.PlanFunc) ([]model.WatchlistEntry, error) {
	d, found, err := r.load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	snapshot, err := d.toModel(ownerID)
	if err != nil {
		return nil, err
	}
	cs, err := plan(snapshot)
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		return snapshot, nil
	}
	out, err := repository.Resolve(ownerID, snapshot, cs, r.now())
	if err != nil {
		return nil, err
	}

	next := newShelf(ownerID, d.Ver+1, out.After)
	if !found {
		if _, err := r.coll.InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errs.ErrVersionConflict
			}
			return nil, err
		}
		return out.After, nil
	}

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.Owner, "ver": d.Ver}, next)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, errs.ErrVersionConflict
	}
	return out.After, nil
}

// Insert adds a new entry for owner.
func (r *WatchlistRepo) Insert(ctx context.Context, ownerID uuid.UUID, m model.MediaSets) (model.WatchlistEntry, error) {
	return repository.InsertVia(ctx, r.Apply, ownerID, m)
}
