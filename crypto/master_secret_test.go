package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSalt() []byte {
	return bytes.Repeat([]byte{0x5a}, SaltSize)
}

func TestDeriveMasterSecretDeterministic(t *testing.T) {
	s1, err := DeriveMasterSecret([]byte("passphrase"), testSalt())
	require.NoError(t, err)
	s2, err := DeriveMasterSecret([]byte("passphrase"), testSalt())
	require.NoError(t, err)
	s3, err := DeriveMasterSecret([]byte("other"), testSalt())
	require.NoError(t, err)

	assert.Equal(t, *s1.Key(), *s2.Key())
	assert.NotEqual(t, *s1.Key(), *s3.Key())
	assert.False(t, s1.IsZero())
}

func TestDeriveMasterSecretValidation(t *testing.T) {
	_, err := DeriveMasterSecret(nil, testSalt())
	assert.ErrorIs(t, err, ErrEmptyPassphrase)

	_, err = DeriveMasterSecret([]byte("x"), []byte("short"))
	assert.Error(t, err)
}

func TestMasterSecretCloneAndWipe(t *testing.T) {
	s := NewMasterSecret([32]byte{1, 2, 3})
	c := s.Clone()
	require.Equal(t, *s.Key(), *c.Key())

	c.Wipe()
	assert.True(t, c.IsZero())
	assert.False(t, s.IsZero(), "wiping a clone must not affect the original")

	var nilSecret *MasterSecret
	assert.True(t, nilSecret.IsZero())
	assert.Nil(t, nilSecret.Clone())
	nilSecret.Wipe()
}
