package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/deliverycore/crypto"
)

// ParsePublicKey decodes a hex encoded 32-byte public key.
func ParsePublicKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return key, fmt.Errorf("invalid public key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid public key length: got %d, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}

// LoadOrCreateKeyPair reads the hex encoded static private key at path,
// generating and saving a new one (mode 0600) when the file is missing.
func LoadOrCreateKeyPair(path string) (*crypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		encoded := hex.EncodeToString(kp.Private[:])
		if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
			return nil, fmt.Errorf("failed to save key: %w", err)
		}
		return kp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	crypto.ZeroBytes(data)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid key file %s", path)
	}

	var secret [32]byte
	copy(secret[:], raw)
	crypto.ZeroBytes(raw)
	defer crypto.ZeroBytes(secret[:])

	return crypto.FromSecretKey(secret)
}
