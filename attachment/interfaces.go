package attachment

import (
	"context"
	"io"

	"github.com/opd-ai/deliverycore/crypto"
)

// Store provides decrypted attachment bytes and metadata.
type Store interface {
	// OpenDecryptedStream returns the plaintext of id. It returns an error
	// wrapping ErrAttachmentMissing when the store has no bytes for id.
	OpenDecryptedStream(ctx context.Context, secret *crypto.MasterSecret, id ID) (io.ReadCloser, error)
	// ContentType returns the recorded MIME type of id. exists is false
	// when the attachment is gone; contentType may be empty when unknown.
	ContentType(ctx context.Context, id ID) (contentType string, exists bool)
}

// SecretSource exposes the currently unlocked master secret. The returned
// secret is a copy owned by the caller, who wipes it after use.
type SecretSource interface {
	CurrentUnlockedSecret() (*crypto.MasterSecret, bool)
}
