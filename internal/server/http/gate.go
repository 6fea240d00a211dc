package httpserver

import (
	"net/http"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/service"
	"go.uber.org/zap"
)

// Gate decides whether a request may reach protected or anonymous-only handlers.
type Gate struct {
	auth   service.AuthService
	cookie CookieConfig
	log    *zap.Logger
}

// NewGate builds a Gate reading the session cookie described by cookie.
func NewGate(auth service.AuthService, cookie CookieConfig, log *zap.Logger) *Gate {
	return &Gate{auth: auth, cookie: cookie, log: log}
}

// Authenticate verifies the session cookie of r.
func (g *Gate) Authenticate(r *http.Request) (model.Claims, error) {
	raw := g.cookie.read(r)
	if raw == "" {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	return g.auth.Authenticate(r.Context(), raw)
}

// RequireSession rejects callers without a valid session before the handler runs.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := g.Authenticate(r)
		if err != nil {
			writeError(w, g.log, err)
			return
		}
		noteUser(r.Context(), c.UserID.String())
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

// RequireAnonymous sends already signed-in callers to /me.
// A broken or stale cookie counts as anonymous.
func (g *Gate) RequireAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := g.Authenticate(r); err == nil {
			http.Redirect(w, r, "/me", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
