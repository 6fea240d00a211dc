package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	pkgcrypto "github.com/and161185/streamvault/internal/crypto"
	"github.com/and161185/streamvault/internal/errs"
	"github.com/and161185/streamvault/internal/limiter"
	"github.com/and161185/streamvault/internal/model"
	"github.com/and161185/streamvault/internal/repository"
	"github.com/and161185/streamvault/internal/token"
	"github.com/gofrs/uuid/v5"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const (
	maxUsernameLen = 64
	maxImageURLLen = 2048
)

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a new identity with a bcrypt password hash.
	Register(ctx context.Context, username, email, password string) (model.User, error)
	// Login applies rate limiting by (email, ip) and issues a session token.
	Login(ctx context.Context, email, password, ip string) (model.Token, model.User, error)
	// Authenticate verifies a raw session token.
	Authenticate(ctx context.Context, raw string) (model.Claims, error)
	// Logout revokes the session described by claims.
	Logout(ctx context.Context, claims model.Claims) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	// UpdateUser edits the profile. Changing the password requires the current one.
	UpdateUser(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (model.User, error)
	// DeleteUser removes the identity and its watchlist after checking the password.
	DeleteUser(ctx context.Context, id uuid.UUID, password string) error
}

// RateLimitedError carries how long a blocked login must wait.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v: retry in %s", errs.ErrRateLimited, e.Wait.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return errs.ErrRateLimited }

type AuthServiceImpl struct {
	base
	users      repository.UserRepository
	watchlists repository.WatchlistRepository
	tokens     *token.Service
	hasher     *pkgcrypto.Hasher
	lim        limiter.Limiter
	policy     *bluemonday.Policy
	dummyHash  []byte
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	watchlists repository.WatchlistRepository,
	tokens *token.Service,
	hasher *pkgcrypto.Hasher,
	lim limiter.Limiter,
	opts ...Option,
) (*AuthServiceImpl, error) {
	// compared against on unknown emails so both login failures cost one bcrypt run
	dummy, err := hasher.Hash("streamvault-unknown-account")
	if err != nil {
		return nil, err
	}
	return &AuthServiceImpl{
		base:       newBase(opts),
		users:      users,
		watchlists: watchlists,
		tokens:     tokens,
		hasher:     hasher,
		lim:        lim,
		policy:     bluemonday.StrictPolicy(),
		dummyHash:  dummy,
	}, nil
}

// cleanUsername strips markup and surrounding space.
func (s *AuthServiceImpl) cleanUsername(raw string) (string, error) {
	name := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
	if name == "" {
		return "", fmt.Errorf("%w: username is required", errs.ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		return "", fmt.Errorf("%w: username longer than %d characters", errs.ErrValidation, maxUsernameLen)
	}
	return name, nil
}

func checkEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}
	return email, nil
}

func checkImageURL(raw string) (string, error) {
	img := strings.TrimSpace(raw)
	if img == "" {
		return "", nil
	}
	u, err := url.Parse(img)
	if err != nil || len(img) > maxImageURLLen || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: profile image must be an http(s) URL", errs.ErrValidation)
	}
	return img, nil
}

// Register validates input and stores a new identity.
func (s *AuthServiceImpl) Register(ctx context.Context, username, email, password string) (model.User, error) {
	name, err := s.cleanUsername(username)
	if err != nil {
		return model.User{}, err
	}
	if email, err = checkEmail(email); err != nil {
		return model.User{}, err
	}
	if err := pkgcrypto.CheckStrength(password); err != nil {
		return model.User{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, err
	}

	u := &model.User{ID: uid, Username: name, Email: email, PwdHash: hash}
	if err := boundedErr(ctx, s.timeout, func(ctx context.Context) error { return s.users.Create(ctx, u) }); err != nil {
		return model.User{}, err
	}
	s.log.Info("user registered", zap.String("user_id", uid.String()))
	return *u, nil
}

// Login authenticates by email and password. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, ip string) (model.Token, model.User, error) {
	email = strings.TrimSpace(email)
	subject := limiter.Subject(email)
	ipHash := limiter.HashIP(ip)

	allowed, wait, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	if !allowed {
		s.rec.LoginFailure("rate_limited")
		return model.Token{}, model.User{}, &RateLimitedError{Wait: wait}
	}

	u, err := bounded(ctx, s.timeout, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByEmail(ctx, email)
	})
	var ok bool
	switch {
	case err == nil:
		ok = pkgcrypto.VerifyPassword(u.PwdHash, password)
	case errors.Is(err, errs.ErrNotFound):
		pkgcrypto.VerifyPassword(s.dummyHash, password)
	default:
		return model.Token{}, model.User{}, err
	}

	if !ok {
		s.rec.LoginFailure("invalid_credentials")
		blocked, wait, ferr := s.lim.Failure(ctx, subject, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		} else if blocked {
			return model.Token{}, model.User{}, &RateLimitedError{Wait: wait}
		}
		return model.Token{}, model.User{}, errs.ErrInvalidCredentials
	}

	if err := s.lim.Success(ctx, subject, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	return tok, *u, nil
}

// Authenticate verifies the session token and confirms its subject still
// exists. A deleted account leaves no valid sessions behind.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, raw string) (model.Claims, error) {
	return bounded(ctx, s.timeout, func(ctx context.Context) (model.Claims, error) {
		claims, err := s.tokens.Verify(ctx, raw)
		if err != nil {
			return model.Claims{}, err
		}
		if _, err := s.users.GetByID(ctx, claims.UserID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return model.Claims{}, errs.ErrUnauthenticated
			}
			return model.Claims{}, fmt.Errorf("load session user: %w", err)
		}
		return claims, nil
	})
}

func (s *AuthServiceImpl) Logout(ctx context.Context, claims model.Claims) error {
	return boundedErr(ctx, s.timeout, func(ctx context.Context) error {
		return s.tokens.Revoke(ctx, claims)
	})
}

func (s *AuthServiceImpl) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := bounded(ctx, s.timeout, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

func (s *AuthServiceImpl) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := bounded(ctx, s.timeout, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByEmail(ctx, strings.TrimSpace(email))
	})
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// UpdateUser applies the non-nil fields of upd. Email is immutable.
func (s *AuthServiceImpl) UpdateUser(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (model.User, error) {
	u, err := bounded(ctx, s.timeout, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		return model.User{}, err
	}

	if upd.Username != nil {
		if u.Username, err = s.cleanUsername(*upd.Username); err != nil {
			return model.User{}, err
		}
	}
	if upd.ProfileImage != nil {
		if u.ProfileImage, err = checkImageURL(*upd.ProfileImage); err != nil {
			return model.User{}, err
		}
	}
	if upd.NewPassword != "" {
		if !pkgcrypto.VerifyPassword(u.PwdHash, upd.OldPassword) {
			return model.User{}, errs.ErrInvalidCredentials
		}
		if err := pkgcrypto.CheckStrength(upd.NewPassword); err != nil {
			return model.User{}, err
		}
		if u.PwdHash, err = s.hasher.Hash(upd.NewPassword); err != nil {
			return model.User{}, err
		}
	}

	if err := boundedErr(ctx, s.timeout, func(ctx context.Context) error { return s.users.Update(ctx, u) }); err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// DeleteUser removes the account, then purges its watchlist. A failed purge is logged;
// the account is already gone at that point.
func (s *AuthServiceImpl) DeleteUser(ctx context.Context, id uuid.UUID, password string) error {
	u, err := bounded(ctx, s.timeout, func(ctx context.Context) (*model.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		return err
	}
	if !pkgcrypto.VerifyPassword(u.PwdHash, password) {
		return errs.ErrInvalidCredentials
	}
	if err := boundedErr(ctx, s.timeout, func(ctx context.Context) error { return s.users.Delete(ctx, id) }); err != nil {
		return err
	}
	if err := boundedErr(ctx, s.timeout, func(ctx context.Context) error { return s.watchlists.DeleteByOwner(ctx, id) }); err != nil {
		s.log.Error("watchlist purge failed", zap.String("user_id", id.String()), zap.Error(err))
	}
	s.log.Info("user deleted", zap.String("user_id", id.String()))
	return nil
}
