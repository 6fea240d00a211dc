package httpserver

import (
	"net/http"
	"time"

	"github.com/and161185/streamvault/internal/model"
)

// DefaultCookieName carries the session token.
const DefaultCookieName = "sv_session"

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c CookieConfig) set(w http.ResponseWriter, tok model.Token, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    tok.Value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  tok.ExpiresAt,
		MaxAge:   int(tok.ExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieConfig) read(r *http.Request) string {
	ck, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return ck.Value
}
