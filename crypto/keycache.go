package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrWrongPassphrase is returned when a passphrase does not open the stored
// verifier.
var ErrWrongPassphrase = errors.New("wrong passphrase")

const (
	saltFileName     = ".salt"
	verifierFileName = ".verifier"
)

// verifierPlaintext is sealed under the master secret on first unlock.
var verifierPlaintext = []byte("deliverycore master secret verifier v1")

// KeyCache holds the unlocked master secret for the current session. It is
// the secret unlock service consulted before any attachment is decrypted.
// KeyCache is safe for concurrent use.
type KeyCache struct {
	dataDir      string
	idleTimeout  time.Duration
	timeProvider TimeProvider

	mu       sync.Mutex
	secret   *MasterSecret
	lastUsed time.Time
}

// NewKeyCache creates a locked key cache whose salt and verifier live in
// dataDir. An idleTimeout of zero disables automatic locking.
func NewKeyCache(dataDir string, idleTimeout time.Duration) (*KeyCache, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	NewLogger("NewKeyCache").
		WithField("data_dir", dataDir).
		WithField("idle_timeout", idleTimeout).
		Info("Key cache created in locked state")

	return &KeyCache{
		dataDir:      dataDir,
		idleTimeout:  idleTimeout,
		timeProvider: DefaultTimeProvider{},
	}, nil
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (kc *KeyCache) SetTimeProvider(tp TimeProvider) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	kc.timeProvider = tp
}

// Unlock derives the master secret from passphrase and caches it. The
// passphrase slice is wiped before returning. The first unlock in a data
// directory establishes the passphrase.
func (kc *KeyCache) Unlock(passphrase []byte) error {
	defer ZeroBytes(passphrase)

	log := NewLogger("Unlock").WithField("data_dir", kc.dataDir)
	log.Entry()

	salt, err := kc.loadOrGenerateSalt()
	if err != nil {
		log.WithError(err, "load_salt").Error("Failed to prepare salt")
		return err
	}

	secret, err := DeriveMasterSecret(passphrase, salt)
	if err != nil {
		return err
	}

	if err := kc.checkVerifier(secret); err != nil {
		secret.Wipe()
		log.WithError(err, "verify").Warn("Unlock rejected")
		return err
	}

	kc.mu.Lock()
	if kc.secret != nil {
		kc.secret.Wipe()
	}
	kc.secret = secret
	kc.lastUsed = kc.timeProvider.Now()
	kc.mu.Unlock()

	log.Info("Master secret unlocked")
	return nil
}

// Lock wipes the cached secret.
func (kc *KeyCache) Lock() {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.lockLocked()
}

func (kc *KeyCache) lockLocked() {
	if kc.secret == nil {
		return
	}
	kc.secret.Wipe()
	kc.secret = nil
	NewLogger("Lock").WithField("data_dir", kc.dataDir).Info("Master secret locked")
}

// IsUnlocked reports whether a secret is cached and not idle-expired.
func (kc *KeyCache) IsUnlocked() bool {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	return kc.activeLocked()
}

// CurrentUnlockedSecret returns a copy of the cached secret, or false if the
// cache is locked. The caller owns the copy and should Wipe it when done.
// A successful call counts as activity for the idle timeout.
func (kc *KeyCache) CurrentUnlockedSecret() (*MasterSecret, bool) {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if !kc.activeLocked() {
		return nil, false
	}
	kc.lastUsed = kc.timeProvider.Now()
	return kc.secret.Clone(), true
}

// activeLocked expires an idle secret. Caller holds kc.mu.
func (kc *KeyCache) activeLocked() bool {
	if kc.secret == nil {
		return false
	}
	if kc.idleTimeout > 0 && kc.timeProvider.Since(kc.lastUsed) > kc.idleTimeout {
		NewLogger("activeLocked").
			WithField("idle_timeout", kc.idleTimeout).
			Info("Idle timeout reached")
		kc.lockLocked()
		return false
	}
	return true
}

// loadOrGenerateSalt loads the existing salt or generates a new one.
func (kc *KeyCache) loadOrGenerateSalt() ([]byte, error) {
	saltPath := filepath.Join(kc.dataDir, saltFileName)

	data, err := os.ReadFile(saltPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		salt := make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
		return salt, nil
	}

	if len(data) != SaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
	}
	return data, nil
}

// checkVerifier opens the stored verifier with secret, creating it on first use.
func (kc *KeyCache) checkVerifier(secret *MasterSecret) error {
	verifierPath := filepath.Join(kc.dataDir, verifierFileName)

	sealed, err := os.ReadFile(verifierPath)
	if os.IsNotExist(err) {
		sealed, err = SealAttachment(secret, verifierPlaintext)
		if err != nil {
			return fmt.Errorf("failed to seal verifier: %w", err)
		}
		if err := os.WriteFile(verifierPath, sealed, 0o600); err != nil {
			return fmt.Errorf("failed to save verifier: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read verifier: %w", err)
	}

	plaintext, err := OpenAttachment(secret, sealed)
	if err != nil || !bytes.Equal(plaintext, verifierPlaintext) {
		return ErrWrongPassphrase
	}
	return nil
}
