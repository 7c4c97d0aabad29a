package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return hex.EncodeToString(key)
}

func TestSeal_OpenRoundTrip(t *testing.T) {
	sealer, err := NewSealer(testKeyHex(t))
	require.NoError(t, err)

	plaintext := []byte("EAABwz long-lived-access-token")
	aad := []byte("credential-id-123")

	sealed, err := sealer.Seal(plaintext, aad)
	require.NoError(t, err)

	opened, err := sealer.Open(sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpen_TamperedCiphertextFailsCleanly(t *testing.T) {
	sealer, err := NewSealer(testKeyHex(t))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("token"), []byte("aad"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF

	_, err = sealer.Open(sealed, []byte("aad"))
	assert.Error(t, err)
}

func TestOpen_WrongAdditionalDataFailsCleanly(t *testing.T) {
	sealer, err := NewSealer(testKeyHex(t))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("token"), []byte("credential-1"))
	require.NoError(t, err)

	_, err = sealer.Open(sealed, []byte("credential-2"))
	assert.Error(t, err)
}

func TestNewSealer_RejectsShortKey(t *testing.T) {
	_, err := NewSealer(hex.EncodeToString([]byte("too-short")))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestOpen_RejectsTruncatedCiphertext(t *testing.T) {
	sealer, err := NewSealer(testKeyHex(t))
	require.NoError(t, err)

	_, err = sealer.Open([]byte("x"), nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}
