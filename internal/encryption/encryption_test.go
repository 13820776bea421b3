package encryption

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestSealer(t *testing.T) *AEADSealer {
	t.Helper()
	key, err := ParseKey(testHexKey)
	require.NoError(t, err)
	s, err := NewAEADSealer(key)
	require.NoError(t, err)
	return s
}

func TestAEADSealer_SealOpen(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.Seal("I've been feeling anxious")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, Prefix))
	assert.NotContains(t, sealed, "anxious")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "I've been feeling anxious", opened)
}

func TestAEADSealer_FreshNonce(t *testing.T) {
	s := newTestSealer(t)
	a, err := s.Seal("same text")
	require.NoError(t, err)
	b, err := s.Seal("same text")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAEADSealer_OpenLegacyPlaintext(t *testing.T) {
	s := newTestSealer(t)
	got, err := s.Open("stored before encryption was enabled")
	require.NoError(t, err)
	assert.Equal(t, "stored before encryption was enabled", got)
}

func TestAEADSealer_OpenRejectsTampering(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.Seal("hello")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = s.Open(Prefix + base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = s.Open(Prefix + base64.StdEncoding.EncodeToString([]byte("short")))
	assert.True(t, errors.Is(err, ErrCiphertextTooShort))

	_, err = s.Open(Prefix + "%%%not-base64")
	assert.Error(t, err)
}

func TestAEADSealer_WrongKey(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.Seal("secret")
	require.NoError(t, err)

	other, err := NewAEADSealer(make([]byte, 32))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	hexKey, err := ParseKey(testHexKey)
	require.NoError(t, err)
	assert.Len(t, hexKey, 32)

	b64Key, err := ParseKey(base64.StdEncoding.EncodeToString(hexKey))
	require.NoError(t, err)
	assert.Equal(t, hexKey, b64Key)

	for _, bad := range []string{"", "short", "default-encryption-key-32-chars", base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key"))} {
		_, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}
}

func TestFromKeyString(t *testing.T) {
	s, err := FromKeyString("")
	require.NoError(t, err)
	assert.IsType(t, NopSealer{}, s)

	s, err = FromKeyString(testHexKey)
	require.NoError(t, err)
	assert.IsType(t, &AEADSealer{}, s)

	_, err = FromKeyString("nope")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewAEADSealer_KeyLength(t *testing.T) {
	_, err := NewAEADSealer(make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
