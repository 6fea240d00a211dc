// Package catalog resolves watchlist media ids into display metadata from an external catalog.
package catalog

import (
	"context"

	"github.com/and161185/streamvault/internal/model"
)

// Details is the display metadata of one title.
type Details struct {
	Kind        model.Kind `json:"kind"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Overview    string     `json:"overview,omitempty"`
	ReleaseDate string     `json:"releaseDate,omitempty"`
	Year        int        `json:"year,omitempty"`
	PosterURL   string     `json:"posterUrl,omitempty"`
	Rating      float64    `json:"rating,omitempty"`
}

// Lookup fetches details of a single title.
// Implementations return errs.ErrNotFound for unknown ids and errs.ErrUpstream
// when the catalog cannot answer.
type Lookup interface {
	GetByID(ctx context.Context, kind model.Kind, mediaID string) (Details, error)
}
