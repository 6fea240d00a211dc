package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/go-redis/redismock/v9"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

var key = []byte("test-secret")

func sign(t *testing.T, k []byte, c jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(k)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()
	s := NewService(key, 0, NewMemoryDenyList())
	if s.TTL() != 24*time.Hour {
		t.Fatalf("default ttl: %v", s.TTL())
	}
	uid := uuid.Must(uuid.NewV4())

	tok, err := s.Issue(uid)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.ID == "" || tok.Value == "" {
		t.Fatalf("empty token: %+v", tok)
	}
	if d := time.Until(tok.ExpiresAt); d < 23*time.Hour || d > 24*time.Hour {
		t.Fatalf("expiry not ~24h ahead: %v", d)
	}

	c, err := s.Verify(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.UserID != uid || c.TokenID != tok.ID {
		t.Fatalf("claims mismatch: %+v", c)
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()
	s := NewService(key, time.Hour, NewMemoryDenyList())
	uid := uuid.Must(uuid.NewV4())
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   uid.String(),
		ID:        "jti-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	expired := valid
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-48 * time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-24 * time.Hour))

	noExp := valid
	noExp.ExpiresAt = nil

	badSub := valid
	badSub.Subject = "not-a-uuid"

	noID := valid
	noID.ID = ""

	good := sign(t, key, valid)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("none: %v", err)
	}

	cases := map[string]string{
		"empty":     "",
		"garbage":   "abc.def.ghi",
		"expired":   sign(t, key, expired),
		"no exp":    sign(t, key, noExp),
		"wrong key": sign(t, []byte("other"), valid),
		"bad sub":   sign(t, key, badSub),
		"no jti":    sign(t, key, noID),
		"tampered":  tampered,
		"alg none":  none,
	}
	for name, raw := range cases {
		if _, err := s.Verify(context.Background(), raw); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("%s: want ErrUnauthenticated, got %v", name, err)
		}
	}

	if _, err := s.Verify(context.Background(), good); err != nil {
		t.Fatalf("good token rejected: %v", err)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()
	s := NewService(key, time.Hour, NewMemoryDenyList())
	base := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return base }

	tok, err := s.Issue(uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Hour - time.Second) }
	if _, err := s.Verify(context.Background(), tok.Value); err != nil {
		t.Fatalf("just before expiry: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := s.Verify(context.Background(), tok.Value); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("at expiry: want ErrUnauthenticated, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	s := NewService(key, time.Hour, NewMemoryDenyList())
	tok, _ := s.Issue(uuid.Must(uuid.NewV4()))
	c, err := s.Verify(context.Background(), tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := s.Revoke(context.Background(), c); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := s.Verify(context.Background(), tok.Value); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("revoked token accepted: %v", err)
	}

	other, _ := s.Issue(c.UserID)
	if _, err := s.Verify(context.Background(), other.Value); err != nil {
		t.Fatalf("sibling token must stay valid: %v", err)
	}
}

type brokenDeny struct{}

func (brokenDeny) Revoke(context.Context, string, time.Time) error { return errors.New("down") }
func (brokenDeny) IsRevoked(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestVerify_DenyListDown(t *testing.T) {
	t.Parallel()
	s := NewService(key, time.Hour, brokenDeny{})
	tok, _ := s.Issue(uuid.Must(uuid.NewV4()))
	if _, err := s.Verify(context.Background(), tok.Value); !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestMemoryDenyList_Prune(t *testing.T) {
	t.Parallel()
	m := NewMemoryDenyList()
	base := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return base }
	ctx := context.Background()

	_ = m.Revoke(ctx, "a", base.Add(time.Minute))
	_ = m.Revoke(ctx, "b", base.Add(-time.Minute))

	if ok, _ := m.IsRevoked(ctx, "a"); !ok {
		t.Fatalf("a must be revoked")
	}
	if ok, _ := m.IsRevoked(ctx, "b"); ok {
		t.Fatalf("b already expired")
	}
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if n := m.Prune(); n != 1 {
		t.Fatalf("prune removed %d", n)
	}
	if ok, _ := m.IsRevoked(ctx, "a"); ok {
		t.Fatalf("a expired after prune")
	}
}

func TestRedisDenyList(t *testing.T) {
	t.Parallel()
	client, mock := redismock.NewClientMock()
	d := NewRedisDenyList(client)
	base := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return base }
	ctx := context.Background()

	mock.ExpectSet("revoked:jti-1", "1", 90*time.Second).SetVal("OK")
	if err := d.Revoke(ctx, "jti-1", base.Add(89*time.Second+200*time.Millisecond)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// already expired: nothing written
	if err := d.Revoke(ctx, "jti-2", base.Add(-time.Second)); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}

	mock.ExpectExists("revoked:jti-1").SetVal(1)
	if ok, err := d.IsRevoked(ctx, "jti-1"); err != nil || !ok {
		t.Fatalf("IsRevoked: %v %v", ok, err)
	}
	mock.ExpectExists("revoked:jti-3").SetVal(0)
	if ok, err := d.IsRevoked(ctx, "jti-3"); err != nil || ok {
		t.Fatalf("IsRevoked missing: %v %v", ok, err)
	}
	mock.ExpectExists("revoked:jti-4").SetErr(errors.New("conn refused"))
	if _, err := d.IsRevoked(ctx, "jti-4"); err == nil {
		t.Fatalf("want redis error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
