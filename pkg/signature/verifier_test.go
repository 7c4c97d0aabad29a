package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_ValidSHA256Signature(t *testing.T) {
	secret := "app-secret"
	body := []byte(`{"object":"instagram"}`)
	header := ComputeHex(AlgoSHA256, secret, body)

	assert.NoError(t, Verify(secret, body, header))
}

func TestVerify_ValidSHA1Signature(t *testing.T) {
	secret := "app-secret"
	body := []byte(`{"object":"instagram"}`)
	header := ComputeHex(AlgoSHA1, secret, body)

	assert.NoError(t, Verify(secret, body, header))
}

func TestVerify_MissingHeader(t *testing.T) {
	err := Verify("secret", []byte("body"), "")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerify_UnconfiguredSecret(t *testing.T) {
	err := Verify("", []byte("body"), "sha256=abc")
	assert.ErrorIs(t, err, ErrBadSecret)
}

func TestVerify_WrongLengthHex(t *testing.T) {
	err := Verify("secret", []byte("body"), "sha256=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_AllZeroHexOfCorrectLength(t *testing.T) {
	zeros := make([]byte, 64)
	for i := range zeros {
		zeros[i] = '0'
	}
	err := Verify("secret", []byte("body"), "sha256="+string(zeros))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedBodyFailsEvenWithValidLookingSignature(t *testing.T) {
	secret := "app-secret"
	header := ComputeHex(AlgoSHA256, secret, []byte("original body"))

	err := Verify(secret, []byte("tampered body"), header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_NoAlgoPrefixDefaultsToSHA256(t *testing.T) {
	secret := "app-secret"
	body := []byte("body")
	full := ComputeHex(AlgoSHA256, secret, body)
	bareHex := full[len("sha256="):]

	assert.NoError(t, Verify(secret, body, bareHex))
}
