// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (base version mismatch).
	// Stores return it; services retry once and then surface ErrConflict.
	ErrVersionConflict = errors.New("version conflict")

	// ErrConflict indicates a concurrent modification that persisted after a retry.
	ErrConflict = errors.New("conflict")

	// ErrUnauthenticated indicates a missing, malformed, expired or revoked session token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidCredentials is the single login/password-check failure.
	// It never reveals whether the email exists.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrWeakPassword indicates the password is shorter than the minimum length.
	ErrWeakPassword = errors.New("password must be at least 8 characters")

	// ErrValidation indicates malformed input (unknown kind, empty id, bad email).
	ErrValidation = errors.New("validation failed")

	// ErrForbidden indicates the caller may not act on another identity.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream indicates the media catalog could not be reached or answered badly.
	ErrUpstream = errors.New("upstream catalog failure")

	// ErrStoreUnavailable indicates a store call timed out or the store is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")
)
