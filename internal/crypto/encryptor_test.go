package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAesGcmEncryptor(t *testing.T) {
	t.Parallel()

	enc, err := NewAesGcmEncryptor(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("s3cret-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "s3cret-token")

	again, err := enc.Encrypt("s3cret-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between calls")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-token", plain)
}

func TestAesGcmEncryptorRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewAesGcmEncryptor([]byte("short"))
	require.Error(t, err)

	enc, err := NewAesGcmEncryptor(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)

	_, err = enc.Decrypt("AAAA")
	assert.Error(t, err)

	other, err := NewAesGcmEncryptor(bytes.Repeat([]byte("x"), 32))
	require.NoError(t, err)
	sealed, err := other.Encrypt("value")
	require.NoError(t, err)
	_, err = enc.Decrypt(sealed)
	assert.Error(t, err)
}
