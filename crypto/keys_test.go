package crypto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	expected, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	require.NoError(t, err)
	require.Equal(t, expected, kp.Public.Bytes())

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, kp.Private, other.Private)
	require.False(t, kp.Public.Equal(other.Public))
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sk, err := ParsePrivateKey(kp.Private.Base64())
	require.NoError(t, err)
	require.Equal(t, kp.Private, sk)

	rebuilt, err := NewKeyPair(sk)
	require.NoError(t, err)
	require.True(t, rebuilt.Public.Equal(kp.Public))

	pk, err := ParsePublicKey(kp.Public.String())
	require.NoError(t, err)
	require.Equal(t, kp.Public, pk)

	text, err := kp.Public.MarshalText()
	require.NoError(t, err)
	var decoded PublicKey
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, kp.Public, decoded)
}

func TestPrivateKeyIsRedacted(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NotContains(t, fmt.Sprintf("%v", kp.Private), kp.Private.Base64())
	require.NotContains(t, fmt.Sprintf("%s", kp.Private), kp.Private.Base64())
}

func TestParseKeyErrors(t *testing.T) {
	_, err := ParsePrivateKey("not base64!")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePrivateKey("AAAA")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePublicKey("AAAA")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestPrivateKeyZero(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	kp.Private.Zero()
	require.Equal(t, PrivateKey{}, kp.Private)
}
