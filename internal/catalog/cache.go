package catalog

import (
	"context"
	"time"

	"github.com/and161185/streamvault/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached memoizes successful lookups of another Lookup for a limited time.
// Failures are not cached.
type Cached struct {
	next  Lookup
	cache *expirable.LRU[string, Details]
}

// NewCached wraps next with an LRU of at most size titles, each kept for ttl.
func NewCached(next Lookup, size int, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: expirable.NewLRU[string, Details](size, nil, ttl)}
}

func cacheKey(kind model.Kind, id string) string { return string(kind) + ":" + id }

func (c *Cached) GetByID(ctx context.Context, kind model.Kind, mediaID string) (Details, error) {
	key := cacheKey(kind, mediaID)
	if d, ok := c.cache.Get(key); ok {
		return d, nil
	}
	d, err := c.next.GetByID(ctx, kind, mediaID)
	if err != nil {
		return Details{}, err
	}
	c.cache.Add(key, d)
	return d, nil
}

// Len is the number of cached titles.
func (c *Cached) Len() int { return c.cache.Len() }
