package catalog

import (
	"context"
	"errors"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/sourcegraph/conc/pool"
)

// Item is a watchlist reference together with whatever the catalog knows about it.
// Status is "ok", "missing" (unknown to the catalog) or "unavailable".
type Item struct {
	Details
	Status string `json:"status"`
}

const defaultExpandWorkers = 8

// Expand resolves ids of one kind concurrently with at most workers lookups in flight.
// The result keeps the order of ids. A failed lookup degrades that item only; the call
// fails only when ctx is done.
func Expand(ctx context.Context, l Lookup, kind model.Kind, ids []string, workers int) ([]Item, error) {
	if workers <= 0 {
		workers = defaultExpandWorkers
	}
	out := make([]Item, len(ids))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for i, id := range ids {
		p.Go(func(ctx context.Context) error {
			out[i] = resolve(ctx, l, kind, id)
			return nil
		})
	}
	_ = p.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func resolve(ctx context.Context, l Lookup, kind model.Kind, id string) Item {
	d, err := l.GetByID(ctx, kind, id)
	switch {
	case err == nil:
		return Item{Details: d, Status: "ok"}
	case errors.Is(err, errs.ErrNotFound):
		return Item{Details: Details{Kind: kind, ID: id}, Status: "missing"}
	default:
		return Item{Details: Details{Kind: kind, ID: id}, Status: "unavailable"}
	}
}
