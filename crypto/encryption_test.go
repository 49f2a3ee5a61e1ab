package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestEncryptDecryptRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	aad := []byte("round:1|client:alice|size:4")
	plaintext := []byte(`{"meta":{"round":1},"data":[1,0,0,0]}`)

	sealed, err := Encrypt(kp.Public, plaintext, aad)
	require.NoError(t, err)
	require.Equal(t, Version, sealed.Version)
	require.Equal(t, Suite, sealed.Enc)
	require.Equal(t, aad, sealed.AssociatedData)
	require.False(t, bytes.Contains(sealed.Ciphertext, plaintext))

	decrypted, err := Decrypt(kp.Private, sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptWithoutAssociatedData(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := Encrypt(kp.Public, []byte("payload"), nil)
	require.NoError(t, err)
	require.Nil(t, sealed.AssociatedData)

	decrypted, err := Decrypt(kp.Private, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), decrypted)

	sealed.AssociatedData = []byte("round:1|client:a|size:1")
	_, err = Decrypt(kp.Private, sealed)
	require.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestDecryptRejectsWrongAssociatedData(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := Encrypt(kp.Public, []byte("update"), []byte("round:3|client:bob|size:8"))
	require.NoError(t, err)

	for _, aad := range []string{
		"round:4|client:bob|size:8",
		"round:3|client:eve|size:8",
		"round:3|client:bob|size:9",
		"",
	} {
		replayed := *sealed
		replayed.AssociatedData = []byte(aad)
		out, err := Decrypt(kp.Private, &replayed)
		require.ErrorIs(t, err, ErrAuthenticationFailure, "aad %q", aad)
		require.Nil(t, out)
	}
}

func TestDecryptTamperSensitivity(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	aad := []byte("round:1|client:c|size:3")
	sealed, err := Encrypt(kp.Public, []byte("some secret model update bytes"), aad)
	require.NoError(t, err)

	flip := func(mutate func(s *Sealed)) error {
		c := &Sealed{
			Version:            sealed.Version,
			Enc:                sealed.Enc,
			EphemeralPublicKey: sealed.EphemeralPublicKey,
			Nonce:              bytes.Clone(sealed.Nonce),
			Ciphertext:         bytes.Clone(sealed.Ciphertext),
			AssociatedData:     bytes.Clone(sealed.AssociatedData),
		}
		mutate(c)
		out, err := Decrypt(kp.Private, c)
		require.Nil(t, out)
		return err
	}

	for bit := 0; bit < len(sealed.Ciphertext)*8; bit++ {
		err := flip(func(s *Sealed) { s.Ciphertext[bit/8] ^= 1 << (bit % 8) })
		require.ErrorIs(t, err, ErrAuthenticationFailure, "ciphertext bit %d", bit)
	}
	for bit := 0; bit < NonceSize*8; bit++ {
		err := flip(func(s *Sealed) { s.Nonce[bit/8] ^= 1 << (bit % 8) })
		require.ErrorIs(t, err, ErrAuthenticationFailure, "nonce bit %d", bit)
	}
	for bit := 0; bit < KeySize*8; bit++ {
		err := flip(func(s *Sealed) { s.EphemeralPublicKey[bit/8] ^= 1 << (bit % 8) })
		require.ErrorIs(t, err, ErrAuthenticationFailure, "epk bit %d", bit)
	}
}

// sealDirect builds a package from the primitives alone: X25519, HKDF-SHA256
// under KDFInfo, AES-256-GCM with the associated data as given.
func sealDirect(t *testing.T, recipient PublicKey, plaintext, aad []byte) *Sealed {
	esk := make([]byte, KeySize)
	_, err := rand.Read(esk)
	require.NoError(t, err)
	epk, err := curve25519.X25519(esk, curve25519.Basepoint)
	require.NoError(t, err)
	shared, err := curve25519.X25519(esk, recipient[:])
	require.NoError(t, err)

	key := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(KDFInfo)), key)
	require.NoError(t, err)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, NonceSize)
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	var ephemeral PublicKey
	copy(ephemeral[:], epk)
	return &Sealed{
		Version:            Version,
		Enc:                Suite,
		EphemeralPublicKey: ephemeral,
		Nonce:              nonce,
		Ciphertext:         gcm.Seal(nil, nonce, plaintext, aad),
		AssociatedData:     aad,
	}
}

func TestDecryptDirectlySealedPackage(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	aad := []byte("round:7|client:alice|size:2")
	plaintext := []byte(`{"meta":{"round":7},"data":[0.5,1]}`)

	out, err := Decrypt(kp.Private, sealDirect(t, kp.Public, plaintext, aad))
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestDecryptRejectsHighBitEphemeralKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := Encrypt(kp.Public, []byte("update"), []byte("round:1|client:c|size:1"))
	require.NoError(t, err)
	require.Zero(t, sealed.EphemeralPublicKey[KeySize-1]&0x80)

	// The same point for X25519, so only the explicit check catches it.
	sealed.EphemeralPublicKey[KeySize-1] |= 0x80
	out, err := Decrypt(kp.Private, sealed)
	require.ErrorIs(t, err, ErrAuthenticationFailure)
	require.Nil(t, out)
}

func TestEncryptFreshness(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	seenKeys := make(map[PublicKey]bool)
	seenNonces := make(map[string]bool)
	for i := 0; i < 64; i++ {
		sealed, err := Encrypt(kp.Public, []byte("identical"), []byte("identical"))
		require.NoError(t, err)
		require.False(t, seenKeys[sealed.EphemeralPublicKey], "ephemeral key reused")
		require.False(t, seenNonces[string(sealed.Nonce)], "nonce reused")
		seenKeys[sealed.EphemeralPublicKey] = true
		seenNonces[string(sealed.Nonce)] = true
	}
}

func TestEncryptInvalidRecipient(t *testing.T) {
	// The all-zero point has low order: the shared secret would be zero.
	_, err := Encrypt(PublicKey{}, []byte("x"), nil)
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewPublicKeyFromBytes(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptEntropyFailure(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = EncryptFrom(failingReader{}, kp.Public, []byte("x"), nil)
	require.ErrorIs(t, err, ErrEntropyFailure)

	// Enough entropy for the ephemeral key but not the nonce.
	_, err = EncryptFrom(io.LimitReader(rand.Reader, KeySize), kp.Public, []byte("x"), nil)
	require.ErrorIs(t, err, ErrEntropyFailure)

	_, err = GenerateKeyPairFrom(failingReader{})
	require.ErrorIs(t, err, ErrEntropyFailure)
}

func TestDecryptMalformed(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := Encrypt(kp.Public, []byte("x"), nil)
	require.NoError(t, err)

	cases := map[string]func(s Sealed) *Sealed{
		"nil":           func(Sealed) *Sealed { return nil },
		"version":       func(s Sealed) *Sealed { s.Version = 2; return &s },
		"suite":         func(s Sealed) *Sealed { s.Enc = "P256-AESGCM"; return &s },
		"short nonce":   func(s Sealed) *Sealed { s.Nonce = s.Nonce[:8]; return &s },
		"no nonce":      func(s Sealed) *Sealed { s.Nonce = nil; return &s },
		"short ct":      func(s Sealed) *Sealed { s.Ciphertext = s.Ciphertext[:TagSize-1]; return &s },
		"low order epk": func(s Sealed) *Sealed { s.EphemeralPublicKey = PublicKey{}; return &s },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := Decrypt(kp.Private, mutate(*sealed))
			require.ErrorIs(t, err, ErrMalformedPackage)
			require.Nil(t, out)
		})
	}
}
