package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000
	// SaltSize is the size of the salt for PBKDF2
	SaltSize = 32
	// MasterKeySize is the size of the symmetric master key.
	MasterKeySize = 32
)

// ErrEmptyPassphrase is returned when deriving a secret from an empty passphrase.
var ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

// MasterSecret holds the unlocked symmetric key that protects attachments at
// rest. The zero value is an empty, unusable secret.
type MasterSecret struct {
	key [MasterKeySize]byte
}

// NewMasterSecret wraps a raw key. The caller's array is copied.
func NewMasterSecret(key [MasterKeySize]byte) *MasterSecret {
	return &MasterSecret{key: key}
}

// DeriveMasterSecret derives a master secret from passphrase and salt using
// PBKDF2-SHA256.
func DeriveMasterSecret(passphrase, salt []byte) (*MasterSecret, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(salt), SaltSize)
	}

	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, MasterKeySize, sha256.New)
	secret := &MasterSecret{}
	copy(secret.key[:], derived)
	ZeroBytes(derived)

	return secret, nil
}

// Key returns a pointer to the key for use with secretbox. The pointer must
// not outlive the secret.
func (s *MasterSecret) Key() *[MasterKeySize]byte {
	return &s.key
}

// Clone returns an independent copy of the secret.
func (s *MasterSecret) Clone() *MasterSecret {
	if s == nil {
		return nil
	}
	c := &MasterSecret{}
	copy(c.key[:], s.key[:])
	return c
}

// IsZero reports whether the secret is empty or has been wiped.
func (s *MasterSecret) IsZero() bool {
	return s == nil || isZeroKey(s.key)
}

// Wipe erases the key material. Safe to call more than once and on nil.
func (s *MasterSecret) Wipe() {
	if s == nil {
		return
	}
	ZeroBytes(s.key[:])
}
