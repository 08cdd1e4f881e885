// Package hasher hashes the admin password. The admin generator compares
// basic auth passwords against admin.password_hash, which the
// hash-password command produces.
package hasher

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns an admin password into a stored hash and checks login
// attempts against it.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// Bcrypt is the hasher behind admin.password_hash.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. A cost outside bcrypt's range, such as
// the zero the admin generator passes, means bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare reports whether a basic auth password matches the configured hash.
// A malformed hash never matches.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Check rejects a configured hash bcrypt cannot read, so a pasted
// plaintext password fails at startup instead of locking out every login.
func Check(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("admin.password_hash is not a bcrypt hash: %w", err)
	}
	return nil
}

var _ Hasher = (*Bcrypt)(nil)

// Fake stores passwords as is. Tests only.
type Fake struct{}

func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte(plaintext), nil
}

func (Fake) Compare(hash []byte, plaintext string) bool {
	return string(hash) == plaintext
}

var _ Hasher = Fake{}
