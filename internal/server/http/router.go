// Package httpserver exposes the account and watchlist API over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/streamvault/internal/metrics"
	"github.com/and161185/streamvault/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Prober reports failing dependencies by name.
type Prober interface {
	Probe(ctx context.Context) map[string]error
}

// Deps holds everything NewRouter wires together. Optional fields may be nil.
type Deps struct {
	Log       *zap.Logger
	Auth      service.AuthService
	Watchlist service.WatchlistService
	Cookie    CookieConfig

	Recorder    metrics.Recorder
	Metrics     http.Handler
	Health      Prober
	RateLimiter *RateLimiter
	CORSOrigins []string
}

// NewRouter builds the complete route table.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Recorder == nil {
		d.Recorder = metrics.Nop{}
	}
	gate := NewGate(d.Auth, d.Cookie, d.Log)
	users := &userHandler{auth: d.Auth, cookie: d.Cookie, log: d.Log, now: time.Now}
	wl := &watchlistHandler{wl: d.Watchlist, log: d.Log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(AccessLog(d.Log))
	r.Use(Recover(d.Log))
	r.Use(Instrument(d.Recorder))
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           86400,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", healthz(d.Health))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		// anonymous only
		r.Group(func(r chi.Router) {
			r.Use(gate.RequireAnonymous)
			r.Post("/users", users.register)
			r.Post("/login", users.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(gate.RequireSession)

			r.Post("/logout", users.logout)
			r.Get("/me", users.me)
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/", users.get)
				r.Put("/", users.update)
				r.Delete("/", users.remove)
			})

			r.Route("/watchlist", func(r chi.Router) {
				r.Get("/", wl.list)
				r.Post("/", wl.addMany)
				r.Delete("/{entryID}", wl.deleteEntry)
				r.Get("/{kind:[a-zA-Z]+}", wl.listByKind)
				r.Route("/{kind:[a-zA-Z]+}/{mediaID}", func(r chi.Router) {
					r.Get("/", wl.isMember)
					r.Put("/", wl.tuple(wl.add))
					r.Delete("/", wl.tuple(wl.remove))
					r.Post("/toggle", wl.tuple(wl.toggle))
				})
			})

			r.Get("/catalog/{kind:[a-zA-Z]+}/{mediaID}", wl.catalogDetails)
		})
	})
	return r
}

type healthResponse struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

func healthz(p Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		failed := p.Probe(r.Context())
		if len(failed) == 0 {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		resp := healthResponse{Status: "unavailable", Failing: map[string]string{}}
		for name, err := range failed {
			resp.Failing[name] = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
	}
}
