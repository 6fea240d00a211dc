package httpserver

import (
	"context"

	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const claimsKey ctxKey = "sv.claims"

// WithClaims stores the verified session in ctx.
func WithClaims(ctx context.Context, c model.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches the verified session.
func ClaimsFromCtx(ctx context.Context) (model.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(model.Claims)
	return c, ok
}

// UserIDFromCtx fetches the authenticated identity id.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok || c.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return c.UserID, true
}
