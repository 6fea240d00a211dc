// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/and161185/streamvault/internal/errs"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest password accepted on registration or change.
const MinPasswordLen = 8

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hasher produces bcrypt hashes with a fixed work factor.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher. Costs outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// CheckStrength enforces the minimum password length.
func CheckStrength(password string) error {
	if len(password) < MinPasswordLen {
		return errs.ErrWeakPassword
	}
	return nil
}

// Hash returns a salted bcrypt hash of password.
func (h *Hasher) Hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: password longer than 72 bytes", errs.ErrValidation)
	}
	return hash, err
}

// VerifyPassword reports whether candidate matches hash. The comparison is constant-time.
func VerifyPassword(hash []byte, candidate string) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil
}
