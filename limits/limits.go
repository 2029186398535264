// Package limits provides centralized size limits for attachments, display
// names and relay frames.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// CopyBufferSize is the fixed buffer size used to stream decrypted
	// attachment bytes into a temporary file.
	CopyBufferSize = 4096

	// MaxAttachmentSize is the maximum plaintext attachment size (100MB).
	MaxAttachmentSize = 100 * 1024 * 1024

	// NonceSize is the size of the secretbox nonce prepended to sealed data.
	NonceSize = 24

	// SecretboxOverhead is the Poly1305 tag added by secretbox.Seal.
	SecretboxOverhead = 16 // golang.org/x/crypto/nacl/secretbox.Overhead

	// MaxSealedAttachment is the largest sealed blob the store will open.
	MaxSealedAttachment = MaxAttachmentSize + NonceSize + SecretboxOverhead

	// MaxDisplayNameLength is the maximum display name length in bytes.
	MaxDisplayNameLength = 255

	// MaxRelayFrame is the maximum Noise message carried in one relay frame.
	MaxRelayFrame = 65535
)

var (
	// ErrAttachmentTooLarge indicates an attachment exceeds the allowed size.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrDisplayNameInvalid indicates a display name is empty, too long or
	// contains path elements.
	ErrDisplayNameInvalid = errors.New("invalid display name")
)

// ValidateAttachmentSize checks size against maxSize. A non-positive maxSize
// falls back to MaxAttachmentSize.
func ValidateAttachmentSize(size int64, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = MaxAttachmentSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrAttachmentTooLarge, size, maxSize)
	}
	return nil
}

// ValidateDisplayName checks that name is a single, safe path element.
func ValidateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrDisplayNameInvalid)
	}
	if len(name) > MaxDisplayNameLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrDisplayNameInvalid, len(name), MaxDisplayNameLength)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q is not a single path element", ErrDisplayNameInvalid, name)
	}
	return nil
}
