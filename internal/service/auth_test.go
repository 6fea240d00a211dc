package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/streamvault/internal/crypto"
	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/limiter"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/and161185/streamvault/internal/repository/memory"
	"github.com/and161185/streamvault/internal/token"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type fakeLimiter struct {
	allowOK  bool
	allowErr error
	wait     time.Duration

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
	subjects     []string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, subject string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.subjects = append(l.subjects, subject)
	return l.allowOK, l.wait, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, l.wait, l.failErr
}

// stallUsers blocks every call until the context ends.
type stallUsers struct{ repository.UserRepository }

func (stallUsers) GetByEmail(ctx context.Context, _ string) (*model.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingUsers struct {
	repository.UserRepository
	err error
}

func (f failingUsers) GetByEmail(context.Context, string) (*model.User, error) { return nil, f.err }

type authFixture struct {
	svc    *AuthServiceImpl
	users  *memory.UserRepo
	lists  *memory.WatchlistRepo
	lim    *fakeLimiter
	tokens *token.Service
}

func newAuth(t *testing.T, opts ...Option) authFixture {
	t.Helper()
	f := authFixture{
		users:  memory.NewUserRepo(),
		lists:  memory.NewWatchlistRepo(),
		lim:    &fakeLimiter{allowOK: true},
		tokens: token.NewService([]byte("k"), time.Hour, token.NewMemoryDenyList()),
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	svc, err := NewAuthService(f.users, f.lists, f.tokens, pkgcrypto.NewHasher(bcrypt.MinCost), f.lim, opts...)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	f.svc = svc
	return f
}

func TestAuth_Register(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, " <b>Alice</b> & co ", "a@x.io", "password1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.ID == uuid.Nil || u.Username != "Alice & co" || u.Email != "a@x.io" {
		t.Fatalf("bad user: %+v", u)
	}
	if string(u.PwdHash) == "password1" || !pkgcrypto.VerifyPassword(u.PwdHash, "password1") {
		t.Fatalf("password not hashed")
	}

	got, err := f.svc.GetUserByEmail(ctx, "a@x.io")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail: %v %+v", err, got)
	}
	if !pkgcrypto.VerifyPassword(got.PwdHash, "password1") || pkgcrypto.VerifyPassword(got.PwdHash, "password2") {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := f.svc.Register(ctx, "bob", "a@x.io", "password2"); !errors.Is(err, errs.ErrDuplicateEmail) {
		t.Fatalf("want ErrDuplicateEmail, got %v", err)
	}
	if _, err := f.svc.GetUserByEmail(ctx, "b@x.io"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("duplicate must not persist: %v", err)
	}
}

func TestAuth_Register_Validation(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()

	cases := []struct {
		name, user, email, pwd string
		want                   error
	}{
		{"short password", "a", "a@x.io", "1234567", errs.ErrWeakPassword},
		{"empty username", "  ", "a@x.io", "password1", errs.ErrValidation},
		{"markup only", "<script>x</script>", "a@x.io", "password1", errs.ErrValidation},
		{"bad email", "a", "not-an-email", "password1", errs.ErrValidation},
		{"display name", "a", "Al <a@x.io>", "password1", errs.ErrValidation},
		{"long username", strings.Repeat("n", 65), "a@x.io", "password1", errs.ErrValidation},
		{"too long password", "a", "a@x.io", strings.Repeat("p", 73), errs.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.svc.Register(ctx, tc.user, tc.email, tc.pwd); !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := f.svc.Register(ctx, "a", "a@x.io", "12345678"); err != nil {
		t.Fatalf("8 characters is enough: %v", err)
	}
}

func TestAuth_Login(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, "alice", "a@x.io", "password1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.lim.allowErr = errors.New("lim-err")
	if _, _, err := f.svc.Login(ctx, "a@x.io", "password1", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	f.lim.allowErr = nil

	f.lim.allowOK, f.lim.wait = false, time.Minute
	_, _, err = f.svc.Login(ctx, "a@x.io", "password1", "1.2.3.4")
	var rl *RateLimitedError
	if !errors.Is(err, errs.ErrRateLimited) || !errors.As(err, &rl) || rl.Wait != time.Minute {
		t.Fatalf("want RateLimitedError, got %v", err)
	}
	f.lim.allowOK = true

	_, _, errUnknown := f.svc.Login(ctx, "nobody@x.io", "password1", "")
	_, _, errWrong := f.svc.Login(ctx, "a@x.io", "wrong-password", "")
	if !errors.Is(errUnknown, errs.ErrInvalidCredentials) || !errors.Is(errWrong, errs.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials: %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("failures must look identical: %q vs %q", errUnknown, errWrong)
	}
	if f.lim.failureCalls != 2 {
		t.Fatalf("failures recorded: %d", f.lim.failureCalls)
	}

	f.lim.failBlocked = true
	if _, _, err := f.svc.Login(ctx, "a@x.io", "wrong-password", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited once blocked, got %v", err)
	}
	f.lim.failBlocked = false

	f.lim.subjects = nil
	tok, got, err := f.svc.Login(ctx, " A@X.io", "password1", "127.0.0.1")
	if !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("email lookup is exact: %v", err)
	}
	if f.lim.subjects[0] != "a@x.io" {
		t.Fatalf("limiter subject not normalized: %q", f.lim.subjects[0])
	}

	tok, got, err = f.svc.Login(ctx, "a@x.io", "password1", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != u.ID || tok.Value == "" || f.lim.successCalls != 1 {
		t.Fatalf("bad login result: %+v %+v", got, tok)
	}
	claims, err := f.svc.Authenticate(ctx, tok.Value)
	if err != nil || claims.UserID != u.ID {
		t.Fatalf("Authenticate: %v %+v", err, claims)
	}

	if err := f.svc.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, tok.Value); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("logged out token accepted: %v", err)
	}
}

func TestAuth_Login_StoreFailures(t *testing.T) {
	t.Parallel()
	f := newAuth(t, WithStoreTimeout(20*time.Millisecond))
	f.svc.users = stallUsers{}
	if _, _, err := f.svc.Login(context.Background(), "a@x.io", "password1", ""); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable on timeout, got %v", err)
	}

	boom := errors.New("connection reset")
	f.svc.users = failingUsers{err: boom}
	if _, _, err := f.svc.Login(context.Background(), "a@x.io", "password1", ""); !errors.Is(err, boom) {
		t.Fatalf("store fault must propagate, got %v", err)
	}
	if f.lim.failureCalls != 0 {
		t.Fatalf("store faults are not login failures")
	}
}

func TestAuth_UpdateUser(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()
	u, _ := f.svc.Register(ctx, "alice", "a@x.io", "password1")

	name, img := "<i>Neo</i>", "https://img.example/neo.png"
	got, err := f.svc.UpdateUser(ctx, u.ID, model.ProfileUpdate{Username: &name, ProfileImage: &img})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if got.Username != "Neo" || got.ProfileImage != img || got.Email != "a@x.io" {
		t.Fatalf("bad update: %+v", got)
	}

	bad := "javascript:alert(1)"
	if _, err := f.svc.UpdateUser(ctx, u.ID, model.ProfileUpdate{ProfileImage: &bad}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want ErrValidation for image, got %v", err)
	}

	if _, err := f.svc.UpdateUser(ctx, u.ID, model.ProfileUpdate{OldPassword: "nope", NewPassword: "password2"}); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.UpdateUser(ctx, u.ID, model.ProfileUpdate{OldPassword: "password1", NewPassword: "short"}); !errors.Is(err, errs.ErrWeakPassword) {
		t.Fatalf("want ErrWeakPassword, got %v", err)
	}
	if _, err := f.svc.UpdateUser(ctx, u.ID, model.ProfileUpdate{OldPassword: "password1", NewPassword: "password2"}); err != nil {
		t.Fatalf("password change: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "a@x.io", "password2", ""); err != nil {
		t.Fatalf("login with new password: %v", err)
	}

	if _, err := f.svc.UpdateUser(ctx, uuid.Must(uuid.NewV4()), model.ProfileUpdate{Username: &name}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAuth_DeleteUser(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()
	u, _ := f.svc.Register(ctx, "alice", "a@x.io", "password1")
	if _, err := f.lists.Insert(ctx, u.ID, model.MediaSets{MovieIDs: []string{"550"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := f.svc.DeleteUser(ctx, u.ID, "wrong-password"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if err := f.svc.DeleteUser(ctx, u.ID, "password1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := f.svc.GetUser(ctx, u.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if entries, _ := f.lists.FindByOwner(ctx, u.ID); len(entries) != 0 {
		t.Fatalf("watchlist not purged: %+v", entries)
	}
	if err := f.svc.DeleteUser(ctx, u.ID, "password1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAuth_DeleteUser_EndsEverySession(t *testing.T) {
	t.Parallel()
	f := newAuth(t)
	ctx := context.Background()
	u, _ := f.svc.Register(ctx, "alice", "a@x.io", "password1")

	first, _, err := f.svc.Login(ctx, "a@x.io", "password1", "10.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, _, err := f.svc.Login(ctx, "a@x.io", "password1", "10.0.0.2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.svc.DeleteUser(ctx, u.ID, "password1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	// neither token was revoked, yet both belong to a user that is gone
	for _, tok := range []string{first.Value, second.Value} {
		if _, err := f.svc.Authenticate(ctx, tok); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("token of a deleted user accepted: %v", err)
		}
	}
}
