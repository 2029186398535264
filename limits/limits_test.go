package limits

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/nacl/secretbox"
)

// TestSecretboxOverheadMatchesNaCl verifies that SecretboxOverhead matches
// golang.org/x/crypto/nacl/secretbox.
func TestSecretboxOverheadMatchesNaCl(t *testing.T) {
	if SecretboxOverhead != secretbox.Overhead {
		t.Errorf("SecretboxOverhead = %d, want %d (secretbox.Overhead)", SecretboxOverhead, secretbox.Overhead)
	}
}

func TestMaxSealedAttachmentCalculation(t *testing.T) {
	expected := MaxAttachmentSize + NonceSize + SecretboxOverhead
	if MaxSealedAttachment != expected {
		t.Errorf("MaxSealedAttachment = %d, want %d", MaxSealedAttachment, expected)
	}
}

func TestValidateAttachmentSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		max     int64
		wantErr bool
	}{
		{"empty", 0, 10, false},
		{"at limit", 10, 10, false},
		{"over limit", 11, 10, true},
		{"default limit", MaxAttachmentSize, 0, false},
		{"over default limit", MaxAttachmentSize + 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttachmentSize(tt.size, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAttachmentSize(%d, %d) error = %v, wantErr %v", tt.size, tt.max, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrAttachmentTooLarge) {
				t.Errorf("expected ErrAttachmentTooLarge, got %v", err)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "image.jpg", false},
		{"no extension", "photo", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b.jpg", true},
		{"backslash", "a\\b.jpg", true},
		{"nul", "a\x00b", true},
		{"too long", strings.Repeat("a", MaxDisplayNameLength+1), true},
		{"at limit", strings.Repeat("a", MaxDisplayNameLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDisplayNameInvalid) {
				t.Errorf("expected ErrDisplayNameInvalid, got %v", err)
			}
		})
	}
}
