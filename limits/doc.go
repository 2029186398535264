// Package limits provides centralized size constants and validation functions
// shared by the delivery and attachment packages. Keeping the limits in one
// place ensures the materializer, the attachment store and the relay transport
// agree on what they accept.
//
// # Size Hierarchy
//
//   - CopyBufferSize (4KB): The fixed buffer used when streaming decrypted
//     attachment bytes into a temporary plaintext file.
//
//   - MaxAttachmentSize (100MB): The largest plaintext attachment the store
//     will seal or the materializer will write to disk. Larger streams are
//     rejected rather than truncated.
//
//   - SecretboxOverhead (16 bytes): The Poly1305 tag added by
//     golang.org/x/crypto/nacl/secretbox, plus NonceSize (24 bytes) prepended to
//     every sealed attachment.
//
//   - MaxDisplayNameLength (255 bytes): The longest display name accepted in an
//     attachment reference. Matches typical filesystem limits.
//
//   - MaxRelayFrame (65535 bytes): The largest Noise message carried by the
//     relay transport; the Noise framework caps messages at this size.
//
// # Validation Functions
//
//	if err := limits.ValidateAttachmentSize(n, limits.MaxAttachmentSize); err != nil {
//	    // ErrAttachmentTooLarge
//	}
//
//	if err := limits.ValidateDisplayName(name); err != nil {
//	    // ErrDisplayNameInvalid
//	}
package limits
