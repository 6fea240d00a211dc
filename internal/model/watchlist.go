package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/gofrs/uuid/v5"
)

// Kind is the media category a watchlist reference belongs to.
type Kind string

const (
	KindMovie Kind = "movie"
	KindShow  Kind = "show"
	KindAnime Kind = "anime"
)

// Kinds lists every supported kind in stable order.
var Kinds = []Kind{KindMovie, KindShow, KindAnime}

// ParseKind validates a kind coming from the outside world.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMovie, KindShow, KindAnime:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", errs.ErrValidation, s)
	}
}

// ParseMediaID trims an external media id and rejects empty values.
func ParseMediaID(s string) (string, error) {
	id := strings.TrimSpace(s)
	if id == "" {
		return "", fmt.Errorf("%w: empty media id", errs.ErrValidation)
	}
	return id, nil
}

// MediaSets holds the three per-kind id sets of an entry. Each slice has set semantics.
type MediaSets struct {
	MovieIDs []string `json:"movieIds"`
	ShowIDs  []string `json:"showIds"`
	AnimeIDs []string `json:"animeIds"`
}

// OrEmpty returns s, or an empty slice when s is nil.
func OrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MarshalJSON always emits arrays, never null.
func (m MediaSets) MarshalJSON() ([]byte, error) {
	type plain MediaSets
	return json.Marshal(plain{
		MovieIDs: OrEmpty(m.MovieIDs),
		ShowIDs:  OrEmpty(m.ShowIDs),
		AnimeIDs: OrEmpty(m.AnimeIDs),
	})
}

func (m *MediaSets) slot(k Kind) *[]string {
	switch k {
	case KindMovie:
		return &m.MovieIDs
	case KindShow:
		return &m.ShowIDs
	case KindAnime:
		return &m.AnimeIDs
	}
	return nil
}

// IDs returns the ids stored under kind k.
func (m MediaSets) IDs(k Kind) []string {
	if s := m.slot(k); s != nil {
		return *s
	}
	return nil
}

// Contains reports whether id is stored under kind k.
func (m MediaSets) Contains(k Kind, id string) bool {
	return slices.Contains(m.IDs(k), id)
}

// Add inserts id under kind k and reports whether the set changed.
func (m *MediaSets) Add(k Kind, id string) bool {
	s := m.slot(k)
	if s == nil || slices.Contains(*s, id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Remove drops id from kind k and reports whether the set changed.
func (m *MediaSets) Remove(k Kind, id string) bool {
	s := m.slot(k)
	if s == nil {
		return false
	}
	n := len(*s)
	*s = slices.DeleteFunc(*s, func(v string) bool { return v == id })
	return len(*s) != n
}

// Empty reports whether all three sets are empty.
func (m MediaSets) Empty() bool {
	return len(m.MovieIDs) == 0 && len(m.ShowIDs) == 0 && len(m.AnimeIDs) == 0
}

// Len is the total number of references across kinds.
func (m MediaSets) Len() int {
	return len(m.MovieIDs) + len(m.ShowIDs) + len(m.AnimeIDs)
}

// Clone returns a deep copy so callers can mutate without touching a snapshot.
func (m MediaSets) Clone() MediaSets {
	return MediaSets{
		MovieIDs: slices.Clone(m.MovieIDs),
		ShowIDs:  slices.Clone(m.ShowIDs),
		AnimeIDs: slices.Clone(m.AnimeIDs),
	}
}

// Normalize trims ids, drops empty ones and removes duplicates while keeping first-seen order.
func (m MediaSets) Normalize() MediaSets {
	var out MediaSets
	for _, k := range Kinds {
		for _, raw := range m.IDs(k) {
			if id := strings.TrimSpace(raw); id != "" {
				out.Add(k, id)
			}
		}
	}
	return out
}

// WatchlistEntry is one stored watchlist record of an owner.
type WatchlistEntry struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"ownerId"`
	MediaSets
	Ver       int64     `json:"ver"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MarshalJSON flattens the sets next to the entry fields. Without it the
// MarshalJSON promoted from MediaSets would replace the whole object.
func (e WatchlistEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        uuid.UUID `json:"id"`
		OwnerID   uuid.UUID `json:"ownerId"`
		MovieIDs  []string  `json:"movieIds"`
		ShowIDs   []string  `json:"showIds"`
		AnimeIDs  []string  `json:"animeIds"`
		Ver       int64     `json:"ver"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}{
		ID:        e.ID,
		OwnerID:   e.OwnerID,
		MovieIDs:  OrEmpty(e.MovieIDs),
		ShowIDs:   OrEmpty(e.ShowIDs),
		AnimeIDs:  OrEmpty(e.AnimeIDs),
		Ver:       e.Ver,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	})
}

// EntryUpdate replaces the sets of an existing entry if its version still equals BaseVer.
type EntryUpdate struct {
	ID      uuid.UUID
	BaseVer int64
	Media   MediaSets
}

// EntryDelete removes an entry if its version still equals BaseVer.
type EntryDelete struct {
	ID      uuid.UUID
	BaseVer int64
}

// Changeset is the result of planning a watchlist mutation against a snapshot.
type Changeset struct {
	Inserts []MediaSets
	Updates []EntryUpdate
	Deletes []EntryDelete
}

// Empty reports whether applying the changeset would be a no-op.
func (c Changeset) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// Membership is the outcome of a tuple-level watchlist operation.
type Membership struct {
	Kind    Kind   `json:"kind"`
	MediaID string `json:"mediaId"`
	Member  bool   `json:"member"`
	Changed bool   `json:"changed"`
}
