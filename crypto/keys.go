package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size in bytes of X25519 private and public keys.
const KeySize = curve25519.ScalarSize

// PublicKey is an X25519 public key. Clients encrypt updates to the
// aggregator's PublicKey, and every sealed package carries the ephemeral
// PublicKey that produced it.
type PublicKey [KeySize]byte

// PrivateKey is an X25519 private scalar.
// It is never serialized implicitly: String redacts it and there is no
// text marshaller. Use Base64 to export it to a key store on purpose.
type PrivateKey [KeySize]byte

// KeyPair holds a private key and the public key derived from it.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeyPair generates a new X25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom generates a new X25519 key pair reading the private
// scalar from random. A short read is reported as ErrEntropyFailure.
func GenerateKeyPairFrom(random io.Reader) (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(random, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropyFailure, err)
	}

	pub, err := kp.Private.PublicKey()
	if err != nil {
		kp.Private.Zero()
		return nil, err
	}
	kp.Public = pub
	return &kp, nil
}

// NewKeyPair rebuilds a key pair from a stored private key.
func NewKeyPair(sk PrivateKey) (*KeyPair, error) {
	pub, err := sk.PublicKey()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: sk, Public: pub}, nil
}

// PublicKey derives the public key corresponding to this private key.
func (sk *PrivateKey) PublicKey() (PublicKey, error) {
	var pk PublicKey
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(pk[:], pub)
	return pk, nil
}

// Zero overwrites the key material in place.
func (sk *PrivateKey) Zero() {
	for i := range sk {
		sk[i] = 0
	}
}

// Base64 exports the private key as standard base64.
// Only key-generation tooling should call this.
func (sk PrivateKey) Base64() string {
	return base64.StdEncoding.EncodeToString(sk[:])
}

// String redacts the key so it cannot leak through logs or %v.
func (sk PrivateKey) String() string {
	return "PrivateKey(redacted)"
}

// ParsePrivateKey decodes a standard base64 X25519 private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	var sk PrivateKey
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return sk, fmt.Errorf("%w: private key is not base64: %v", ErrInvalidKey, err)
	}
	defer zeroBytes(raw)
	if len(raw) != KeySize {
		return sk, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	copy(sk[:], raw)
	return sk, nil
}

// NewPublicKeyFromBytes copies a raw 32-byte public key.
func NewPublicKeyFromBytes(data []byte) (PublicKey, error) {
	var pk PublicKey
	if len(data) != KeySize {
		return pk, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidKey, KeySize, len(data))
	}
	copy(pk[:], data)
	return pk, nil
}

// ParsePublicKey decodes a standard base64 X25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: public key is not base64: %v", ErrInvalidKey, err)
	}
	return NewPublicKeyFromBytes(raw)
}

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, KeySize)
	copy(b, pk[:])
	return b
}

// Equal compares two public keys in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk[:], other[:]) == 1
}

// String returns the standard base64 encoding of the key.
func (pk PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(pk[:])
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
