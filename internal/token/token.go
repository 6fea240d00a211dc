// Package token issues and verifies signed session tokens and tracks revoked ones.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the session lifetime.
const DefaultTTL = 24 * time.Hour

// DenyList remembers revoked token ids until their natural expiry.
type DenyList interface {
	// Revoke marks jti as revoked until the given time.
	Revoke(ctx context.Context, jti string, until time.Time) error
	// IsRevoked reports whether jti has been revoked and has not yet expired.
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Service signs HS256 tokens with a server secret.
type Service struct {
	key  []byte
	ttl  time.Duration
	deny DenyList
	now  func() time.Time
}

// NewService constructs a token service. ttl <= 0 means DefaultTTL.
func NewService(key []byte, ttl time.Duration, deny DenyList) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{key: key, ttl: ttl, deny: deny, now: time.Now}
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue creates a signed token for userID.
func (s *Service) Issue(userID uuid.UUID) (model.Token, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return model.Token{}, err
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ID:        jti.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return model.Token{}, err
	}
	// NumericDate drops sub-second precision; report what the token actually says.
	return model.Token{Value: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, expiry and revocation. Every token problem is ErrUnauthenticated.
func (s *Service) Verify(ctx context.Context, raw string) (model.Claims, error) {
	if raw == "" {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return model.Claims{}, fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	}

	v := jwt.NewValidator(jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err := v.Validate(&claims); err != nil {
		return model.Claims{}, fmt.Errorf("%w: %v", errs.ErrUnauthenticated, err)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return model.Claims{}, fmt.Errorf("%w: bad subject", errs.ErrUnauthenticated)
	}
	if claims.ID == "" {
		return model.Claims{}, fmt.Errorf("%w: missing token id", errs.ErrUnauthenticated)
	}

	revoked, err := s.deny.IsRevoked(ctx, claims.ID)
	if err != nil {
		return model.Claims{}, fmt.Errorf("%w: deny-list: %v", errs.ErrStoreUnavailable, err)
	}
	if revoked {
		return model.Claims{}, fmt.Errorf("%w: revoked", errs.ErrUnauthenticated)
	}

	out := model.Claims{UserID: id, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// Revoke puts the token on the deny-list until it would have expired anyway.
func (s *Service) Revoke(ctx context.Context, c model.Claims) error {
	if !c.ExpiresAt.After(s.now()) {
		return nil
	}
	return s.deny.Revoke(ctx, c.TokenID, c.ExpiresAt)
}
