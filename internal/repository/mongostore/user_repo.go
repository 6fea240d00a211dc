package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PwdHash      []byte    `bson:"pwd_hash"`
	ProfileImage string    `bson:"profile_image,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userDoc) toModel() (*model.User, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           id,
		Username:     d.Username,
		Email:        d.Email,
		PwdHash:      d.PwdHash,
		ProfileImage: d.ProfileImage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

// UserRepo implements UserRepository on a MongoDB collection.
type UserRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewUserRepo binds the repository to coll.
func NewUserRepo(coll *mongo.Collection) *UserRepo {
	return &UserRepo{coll: coll, now: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }}
}

func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	now := r.now()
	_, err := r.coll.InsertOne(ctx, userDoc{
		ID:           u.ID.String(),
		Username:     u.Username,
		Email:        u.Email,
		PwdHash:      u.PwdHash,
		ProfileImage: u.ProfileImage,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrDuplicateEmail
	}
	if err != nil {
		return err
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var d userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return d.toModel()
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) Update(ctx context.Context, u *model.User) error {
	now := r.now()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": u.ID.String()}, bson.M{"$set": bson.M{
		"username":      u.Username,
		"pwd_hash":      u.PwdHash,
		"profile_image": u.ProfileImage,
		"updated_at":    now,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	u.UpdatedAt = now
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}
