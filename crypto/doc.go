// Package crypto provides the key material handling behind secure attachment
// access: the master secret type, passphrase-based derivation, the key cache
// that acts as the secret unlock service, sealing of attachments at rest, and
// curve25519 key pairs for relay identities.
//
// # Master Secret
//
// A [MasterSecret] wraps the 32-byte symmetric key that protects stored
// attachments. It is derived from a user passphrase with PBKDF2-SHA256:
//
//	secret, err := crypto.DeriveMasterSecret(passphrase, salt)
//	if err != nil {
//	    return err
//	}
//	defer secret.Wipe()
//
// Secrets handed out by the package are always copies; callers wipe their copy
// as soon as they are done with it.
//
// # Secret Unlock Service
//
// [KeyCache] holds the unlocked master secret for the current session:
//
//	kc, err := crypto.NewKeyCache(dataDir, 5*time.Minute)
//	if err := kc.Unlock([]byte("correct horse")); err != nil {
//	    // ErrWrongPassphrase
//	}
//	secret, ok := kc.CurrentUnlockedSecret()
//
// The first successful unlock stores a sealed verifier next to the salt so
// later unlocks can reject a wrong passphrase before any attachment is
// touched. An idle timeout locks the cache automatically; the clock can be
// replaced through [KeyCache.SetTimeProvider] for deterministic tests.
//
// # Attachment Sealing
//
// [SealAttachment] and [OpenAttachment] use NaCl secretbox
// (XSalsa20-Poly1305) with a random 24-byte nonce prepended to the
// ciphertext. Sizes are bounded by the limits package.
//
// # Secure Memory
//
// [SecureWipe] and [ZeroBytes] overwrite sensitive buffers. Go's garbage
// collector may copy memory, so wiping is best effort; it still shortens the
// lifetime of secrets in the heap considerably.
//
// # Logging
//
// [LoggerHelper] standardizes logrus fields across the package. Secret values
// are never logged; [SecureFieldHash] produces a short preview suitable for
// public key material only.
package crypto
