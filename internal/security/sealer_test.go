package security

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	secret := []byte(`{"api_token":"zd-123"}`)
	sealed, err := s.Seal(secret)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, secret))

	again, err := s.Seal(secret)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh nonce")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)
}

func TestSealer_RejectsTamperingAndWrongKey(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	sealed, err := s.Seal([]byte("token"))
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = s.Open(tampered)
	assert.ErrorIs(t, err, ErrUnseal)

	other, err := NewSealer(strings.Repeat("cd", 32))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrUnseal)

	_, err = s.Open([]byte("short"))
	assert.ErrorIs(t, err, ErrUnseal)
}

func TestNewSealer_KeyValidation(t *testing.T) {
	_, err := NewSealer("not-hex")
	assert.Error(t, err)

	_, err = NewSealer("abcd")
	assert.ErrorContains(t, err, "must be 32 bytes")
}
