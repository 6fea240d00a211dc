package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/streamvault/internal/crypto"
	"github.com/and161185/streamvault/internal/limiter"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository/memory"
	"github.com/and161185/streamvault/internal/service"
	"github.com/and161185/streamvault/internal/token"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*httptest.Server
	t     *testing.T
	lists *memory.WatchlistRepo
}

func newServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	users, lists := memory.NewUserRepo(), memory.NewWatchlistRepo()
	tokens := token.NewService([]byte("test-secret"), time.Hour, token.NewMemoryDenyList())
	auth, err := service.NewAuthService(users, lists, tokens, pkgcrypto.NewHasher(bcrypt.MinCost),
		limiter.NewMemory(limiter.DefaultPolicy()), service.WithLogger(log))
	require.NoError(t, err)
	d := Deps{
		Log:       log,
		Auth:      auth,
		Watchlist: service.NewWatchlistService(lists, nil, service.WithLogger(log)),
	}
	for _, m := range mutate {
		m(&d)
	}
	srv := httptest.NewServer(NewRouter(d))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t, lists: lists}
}

// client returns an HTTP client with its own cookie jar that does not follow redirects.
func (s *testServer) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(s.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testServer) do(c *http.Client, method, path string, body any) (*http.Response, []byte) {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = strings.NewReader(b)
		default:
			buf, err := json.Marshal(b)
			require.NoError(s.t, err)
			rd = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	return resp, out
}

func (s *testServer) signup(c *http.Client, name, email, pwd string) model.User {
	s.t.Helper()
	resp, body := s.do(c, http.MethodPost, "/users", map[string]string{"username": name, "email": email, "password": pwd})
	require.Equal(s.t, http.StatusCreated, resp.StatusCode, string(body))
	var u model.User
	require.NoError(s.t, json.Unmarshal(body, &u))
	resp, body = s.do(c, http.MethodPost, "/login", map[string]string{"email": email, "password": pwd})
	require.Equal(s.t, http.StatusOK, resp.StatusCode, string(body))
	return u
}

func TestScenario_RegisterLoginWatchlist(t *testing.T) {
	s := newServer(t)
	c := s.client()

	resp, body := s.do(c, http.MethodPost, "/users", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "longpass1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	require.NotContains(t, string(body), "pwd")
	require.NotContains(t, strings.ToLower(string(body)), "hash")

	resp, body = s.do(c, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "longpass1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == DefaultCookieName {
			session = ck
		}
	}
	require.NotNil(t, session)
	require.True(t, session.HttpOnly)
	require.NotEmpty(t, session.Value)

	resp, body = s.do(c, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me map[string]any
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, "alice", me["username"])
	require.Equal(t, "a@x.com", me["email"])
	require.NotContains(t, me, "pwdHash")
	require.NotContains(t, me, "passwordHash")

	resp, body = s.do(c, http.MethodPost, "/watchlist", map[string]any{"movieIds": []string{"603"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	resp, body = s.do(c, http.MethodPost, "/watchlist", map[string]any{"movieIds": []string{"603"}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = s.do(c, http.MethodGet, "/watchlist", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list entriesResponse
	require.NoError(t, json.Unmarshal(body, &list))
	n := 0
	for _, e := range list.Entries {
		for _, id := range e.MovieIDs {
			if id == "603" {
				n++
			}
		}
	}
	require.Equal(t, 1, n)

	resp, body = s.do(c, http.MethodGet, "/watchlist/movie", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"movie","ids":["603"]}`, string(body))
}

func TestScenario_LoginFailuresLookIdentical(t *testing.T) {
	s := newServer(t)
	c := s.client()
	resp, _ := s.do(c, http.MethodPost, "/users", map[string]string{
		"username": "alice", "email": "a@x.com", "password": "longpass1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wrongResp, wrongBody := s.do(s.client(), http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "nope-nope"})
	unknownResp, unknownBody := s.do(s.client(), http.MethodPost, "/login", map[string]string{"email": "ghost@x.com", "password": "nope-nope"})
	malformedResp, malformedBody := s.do(s.client(), http.MethodPost, "/login", `{"email":`)

	want := `{"code":"invalid_credentials","message":"invalid email or password"}`
	for _, r := range []struct {
		resp *http.Response
		body []byte
	}{{wrongResp, wrongBody}, {unknownResp, unknownBody}, {malformedResp, malformedBody}} {
		require.Equal(t, http.StatusUnauthorized, r.resp.StatusCode)
		require.JSONEq(t, want, string(r.body))
	}
	require.Equal(t, string(wrongBody), string(unknownBody))
}

func TestLogin_RateLimited(t *testing.T) {
	s := newServer(t)
	c := s.client()
	for range limiter.DefaultPolicy().MaxFails - 1 {
		resp, _ := s.do(c, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "wrong-pass"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := s.do(c, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "wrong-pass"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, string(body))
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSessionGate(t *testing.T) {
	s := newServer(t)
	anon := s.client()

	for _, p := range []string{"/me", "/watchlist", "/watchlist/movie", "/watchlist/movie/1"} {
		resp, body := s.do(anon, http.MethodGet, p, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, p)
		require.JSONEq(t, `{"code":"unauthenticated","message":"authentication required"}`, string(body))
	}

	c := s.client()
	s.signup(c, "alice", "a@x.com", "longpass1")

	// signed-in callers are sent away from anonymous-only routes
	resp, _ := s.do(c, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "longpass1"})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/me", resp.Header.Get("Location"))
	resp, _ = s.do(c, http.MethodPost, "/users", map[string]string{"username": "x", "email": "b@x.com", "password": "longpass1"})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = s.do(c, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(c, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionGate_RevokedTokenReplayed(t *testing.T) {
	s := newServer(t)
	c := s.client()
	s.signup(c, "alice", "a@x.com", "longpass1")

	// keep a copy of the cookie, log out, then replay it
	var stolen *http.Cookie
	for _, ck := range c.Jar.Cookies(mustURL(t, s.URL)) {
		if ck.Name == DefaultCookieName {
			stolen = ck
		}
	}
	require.NotNil(t, stolen)
	resp, _ := s.do(c, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, s.URL+"/me", nil)
	req.AddCookie(stolen)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	require.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestWatchlistTupleRoutes(t *testing.T) {
	s := newServer(t)
	c := s.client()
	s.signup(c, "alice", "a@x.com", "longpass1")

	resp, body := s.do(c, http.MethodPut, "/watchlist/anime/aot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"anime","mediaId":"aot","member":true,"changed":true}`, string(body))

	resp, body = s.do(c, http.MethodPut, "/watchlist/anime/aot", nil)
	require.JSONEq(t, `{"kind":"anime","mediaId":"aot","member":true,"changed":false}`, string(body))

	resp, body = s.do(c, http.MethodGet, "/watchlist/anime/aot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"anime","mediaId":"aot","member":true}`, string(body))

	resp, body = s.do(c, http.MethodPost, "/watchlist/anime/aot/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"anime","mediaId":"aot","member":false,"changed":true}`, string(body))

	resp, body = s.do(c, http.MethodDelete, "/watchlist/anime/aot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"anime","mediaId":"aot","member":false,"changed":false}`, string(body))

	resp, body = s.do(c, http.MethodPut, "/watchlist/podcast/1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "validation_error")

	// entries stay addressable by id
	resp, body = s.do(c, http.MethodPost, "/watchlist", map[string]any{"showIds": []string{"1399"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Contains(t, string(body), `"movieIds":[]`)
	require.Contains(t, string(body), `"animeIds":[]`)
	var e model.WatchlistEntry
	require.NoError(t, json.Unmarshal(body, &e))
	resp, _ = s.do(c, http.MethodDelete, "/watchlist/"+e.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(c, http.MethodDelete, "/watchlist/"+e.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(c, http.MethodPost, "/watchlist", `{"movieIds":["1"],"extra":true}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWatchlistRoutes_KindCaseAndUnmatched(t *testing.T) {
	s := newServer(t)
	c := s.client()
	s.signup(c, "alice", "a@x.com", "longpass1")

	resp, body := s.do(c, http.MethodPut, "/watchlist/Movie/603", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"kind":"movie","mediaId":"603","member":true,"changed":true}`, string(body))

	resp, body = s.do(c, http.MethodGet, "/watchlist/MOVIE", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"kind":"movie","ids":["603"]}`, string(body))

	resp, body = s.do(c, http.MethodGet, "/watchlist/Movie/603", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"kind":"movie","mediaId":"603","member":true}`, string(body))

	// unmatched methods and paths answer with the usual error envelope
	resp, body = s.do(c, http.MethodPatch, "/watchlist", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.JSONEq(t, `{"code":"method_not_allowed","message":"method not allowed"}`, string(body))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp, body = s.do(c, http.MethodGet, "/no/such/route", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"code":"not_found","message":"no such route"}`, string(body))
}

func TestUserRoutes(t *testing.T) {
	s := newServer(t)
	alice, bob := s.client(), s.client()
	a := s.signup(alice, "alice", "a@x.com", "longpass1")
	b := s.signup(bob, "bob", "b@x.com", "longpass2")

	// others see the public view only
	resp, body := s.do(alice, http.MethodGet, "/users/"+b.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, string(body), "b@x.com")

	resp, _ = s.do(alice, http.MethodGet, "/users/"+uuid.Must(uuid.NewV4()).String(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(alice, http.MethodPut, "/users/"+b.ID.String(), map[string]any{"username": "pwned"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = s.do(alice, http.MethodDelete, "/users/"+b.ID.String(), map[string]any{"password": "longpass2"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(alice, http.MethodPut, "/users/"+a.ID.String(), map[string]any{"oldPassword": "bad", "newPassword": "longpass9"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "wrong_password")

	resp, body = s.do(alice, http.MethodPut, "/users/"+a.ID.String(), map[string]any{"username": "Alice B"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Alice B")

	resp, body = s.do(s.client(), http.MethodPost, "/users", map[string]string{"username": "x", "email": "a@x.com", "password": "longpass1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "duplicate_email")
	resp, body = s.do(s.client(), http.MethodPost, "/users", map[string]string{"username": "x", "email": "c@x.com", "password": "short"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "weak_password")

	resp, _ = s.do(alice, http.MethodDelete, "/users/"+a.ID.String(), map[string]any{"password": "nope"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(alice, http.MethodDelete, "/users/"+a.ID.String(), map[string]any{"password": "longpass1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(alice, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserRoutes_DeleteEndsOtherSessions(t *testing.T) {
	s := newServer(t)
	laptop, phone := s.client(), s.client()
	a := s.signup(laptop, "alice", "a@x.com", "longpass1")
	resp, body := s.do(phone, http.MethodPost, "/login", map[string]string{"email": "a@x.com", "password": "longpass1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = s.do(laptop, http.MethodDelete, "/users/"+a.ID.String(), map[string]any{"password": "longpass1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the phone still holds an unexpired, unrevoked cookie
	resp, _ = s.do(phone, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, body = s.do(phone, http.MethodPut, "/watchlist/movie/603", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.JSONEq(t, `{"code":"unauthenticated","message":"authentication required"}`, string(body))
	resp, _ = s.do(phone, http.MethodPost, "/watchlist", map[string]any{"movieIds": []string{"550"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	entries, err := s.lists.FindByOwner(context.Background(), a.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type fakeProber map[string]error

func (p fakeProber) Probe(context.Context) map[string]error { return p }

func TestHealthz(t *testing.T) {
	s := newServer(t)
	resp, body := s.do(s.client(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(body))

	s = newServer(t, func(d *Deps) { d.Health = fakeProber{"store": errors.New("down")} })
	resp, body = s.do(s.client(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.JSONEq(t, `{"status":"unavailable","failing":{"store":"down"}}`, string(body))
}
