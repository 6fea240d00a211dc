package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/streamvault/internal/model"
)

// apiError is a non-2xx answer decoded from the server's error envelope.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Message)
}

// errSignedIn is returned when the server redirects an anonymous-only call.
var errSignedIn = errors.New("already signed in; run logout first")

type client struct {
	base       string
	cookieName string
	session    string
	http       *http.Client
}

func newClient(base, cookieName, session string, timeout time.Duration) *client {
	return &client{
		base:       strings.TrimRight(base, "/"),
		cookieName: cookieName,
		session:    session,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// do sends in as JSON and decodes a 2xx body into out. It returns the raw response
// with its body already consumed.
func (c *client) do(ctx context.Context, method, path string, in, out any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.session})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp, err
	}

	switch {
	case resp.StatusCode == http.StatusSeeOther:
		return resp, errSignedIn
	case resp.StatusCode >= 300:
		ae := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, ae)
		return resp, ae
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *client) register(ctx context.Context, username, email, password string) (model.User, error) {
	var u model.User
	_, err := c.do(ctx, http.MethodPost, "/users", map[string]string{
		"username": username, "email": email, "password": password,
	}, &u)
	return u, err
}

// login returns the session cookie value and its expiry.
func (c *client) login(ctx context.Context, email, password string) (sessionFile, model.User, error) {
	var out struct {
		User      model.User `json:"user"`
		ExpiresAt time.Time  `json:"expiresAt"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return sessionFile{}, model.User{}, err
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == c.cookieName && ck.Value != "" {
			return sessionFile{Cookie: ck.Value, ExpiresAt: out.ExpiresAt, UserID: out.User.ID.String()}, out.User, nil
		}
	}
	return sessionFile{}, model.User{}, errors.New("server did not set a session cookie")
}

func (c *client) logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", nil, nil)
	return err
}

func (c *client) me(ctx context.Context) (model.User, error) {
	var u model.User
	_, err := c.do(ctx, http.MethodGet, "/me", nil, &u)
	return u, err
}

func (c *client) entries(ctx context.Context) ([]model.WatchlistEntry, error) {
	var out struct {
		Entries []model.WatchlistEntry `json:"entries"`
	}
	_, err := c.do(ctx, http.MethodGet, "/watchlist", nil, &out)
	return out.Entries, err
}

func (c *client) ids(ctx context.Context, kind string) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	_, err := c.do(ctx, http.MethodGet, "/watchlist/"+url.PathEscape(kind), nil, &out)
	return out.IDs, err
}

// details returns the expanded catalog items as the server sent them.
func (c *client) details(ctx context.Context, kind string) (json.RawMessage, error) {
	var out struct {
		Items json.RawMessage `json:"items"`
	}
	_, err := c.do(ctx, http.MethodGet, "/watchlist/"+url.PathEscape(kind)+"?details=1", nil, &out)
	return out.Items, err
}

func tuplePath(kind, id string) string {
	return "/watchlist/" + url.PathEscape(kind) + "/" + url.PathEscape(id)
}

func (c *client) membership(ctx context.Context, method, path string) (model.Membership, error) {
	var m model.Membership
	_, err := c.do(ctx, method, path, nil, &m)
	return m, err
}

func (c *client) add(ctx context.Context, kind, id string) (model.Membership, error) {
	return c.membership(ctx, http.MethodPut, tuplePath(kind, id))
}

func (c *client) remove(ctx context.Context, kind, id string) (model.Membership, error) {
	return c.membership(ctx, http.MethodDelete, tuplePath(kind, id))
}

func (c *client) toggle(ctx context.Context, kind, id string) (model.Membership, error) {
	return c.membership(ctx, http.MethodPost, tuplePath(kind, id)+"/toggle")
}

func (c *client) has(ctx context.Context, kind, id string) (model.Membership, error) {
	return c.membership(ctx, http.MethodGet, tuplePath(kind, id))
}
