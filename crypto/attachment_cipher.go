package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/opd-ai/deliverycore/limits"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	// ErrSecretUnavailable indicates a nil or wiped master secret was supplied.
	ErrSecretUnavailable = errors.New("master secret unavailable")
	// ErrCiphertextCorrupt indicates sealed data failed authentication.
	ErrCiphertextCorrupt = errors.New("ciphertext corrupt or wrong key")
)

// SealAttachment encrypts plaintext under the master secret.
// Format: [nonce:24][secretbox ciphertext+tag:N+16]
func SealAttachment(secret *MasterSecret, plaintext []byte) ([]byte, error) {
	if secret.IsZero() {
		return nil, ErrSecretUnavailable
	}
	if err := limits.ValidateAttachmentSize(int64(len(plaintext)), limits.MaxAttachmentSize); err != nil {
		return nil, err
	}

	var nonce [limits.NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, limits.NonceSize, limits.NonceSize+len(plaintext)+secretbox.Overhead)
	copy(out, nonce[:])
	return secretbox.Seal(out, plaintext, &nonce, secret.Key()), nil
}

// OpenAttachment decrypts data produced by SealAttachment.
func OpenAttachment(secret *MasterSecret, sealed []byte) ([]byte, error) {
	if secret.IsZero() {
		return nil, ErrSecretUnavailable
	}
	if len(sealed) < limits.NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed data too short (%d bytes)", ErrCiphertextCorrupt, len(sealed))
	}
	if len(sealed) > limits.MaxSealedAttachment {
		return nil, fmt.Errorf("%w: sealed size %d", limits.ErrAttachmentTooLarge, len(sealed))
	}

	var nonce [limits.NonceSize]byte
	copy(nonce[:], sealed[:limits.NonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[limits.NonceSize:], &nonce, secret.Key())
	if !ok {
		return nil, ErrCiphertextCorrupt
	}
	return plaintext, nil
}
