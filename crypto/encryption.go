package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// Version is the sealed package format version.
	Version = 1

	// Suite identifies X25519 key agreement, HKDF-SHA256 and AES-256-GCM.
	Suite = "X25519-AESGCM"

	// NonceSize is the AES-GCM nonce size.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag size appended to ciphertexts.
	TagSize = 16

	// KDFInfo is the HKDF info label. It keeps keys derived here from being
	// usable by any other protocol on the same curve.
	KDFInfo = "FLAI-FedAvg-X25519-AESGCM"

	symmetricKeySize = 32
)

// Sealed is the output of Encrypt: everything a holder of the recipient
// private key needs to recover the plaintext.
type Sealed struct {
	Version            int
	Enc                string
	EphemeralPublicKey PublicKey
	Nonce              []byte
	Ciphertext         []byte // includes the GCM tag
	AssociatedData     []byte // authenticated, not encrypted; nil when absent
}

// Encrypt seals plaintext to the recipient's X25519 public key.
//
// A fresh ephemeral key pair is generated for every call and its private
// half is wiped before returning, so each package has its own key and the
// nonce can never repeat under the same derived key.
func Encrypt(recipient PublicKey, plaintext, aad []byte) (*Sealed, error) {
	return EncryptFrom(rand.Reader, recipient, plaintext, aad)
}

// EncryptFrom is Encrypt with an explicit random source for ephemeral keys
// and nonces.
func EncryptFrom(random io.Reader, recipient PublicKey, plaintext, aad []byte) (*Sealed, error) {
	ephemeral, err := GenerateKeyPairFrom(random)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	defer ephemeral.Private.Zero()

	key, err := deriveKey(&ephemeral.Private, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidKey, err)
	}
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrEntropyFailure, err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)

	return &Sealed{
		Version:            Version,
		Enc:                Suite,
		EphemeralPublicKey: ephemeral.Public,
		Nonce:              nonce,
		Ciphertext:         ciphertext,
		AssociatedData:     cloneOrNil(aad),
	}, nil
}

// Decrypt opens a sealed package with the recipient's private key, checking
// the tag against the package's associated data.
// It returns the exact plaintext or an error, never partial output.
func Decrypt(recipient PrivateKey, sealed *Sealed) ([]byte, error) {
	if err := sealed.Validate(); err != nil {
		return nil, err
	}
	// X25519 ignores bit 255 and honest encoders never set it, so a set bit
	// means the key was altered in transit.
	if sealed.EphemeralPublicKey[KeySize-1]&0x80 != 0 {
		return nil, ErrAuthenticationFailure
	}

	key, err := deriveKey(&recipient, sealed.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrMalformedPackage, err)
	}
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, sealed.AssociatedData)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

// Validate checks the structural invariants of a sealed package.
func (s *Sealed) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil package", ErrMalformedPackage)
	}
	if s.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedPackage, s.Version)
	}
	if s.Enc != Suite {
		return fmt.Errorf("%w: unsupported suite %q", ErrMalformedPackage, s.Enc)
	}
	if len(s.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrMalformedPackage, NonceSize, len(s.Nonce))
	}
	if len(s.Ciphertext) < TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformedPackage)
	}
	return nil
}

func deriveKey(sk *PrivateKey, peer PublicKey) ([]byte, error) {
	// X25519 rejects low-order points (all-zero shared secret).
	shared, err := curve25519.X25519(sk[:], peer[:])
	if err != nil {
		return nil, err
	}
	defer zeroBytes(shared)

	key := make([]byte, symmetricKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(KDFInfo)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func cloneOrNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return slices.Clone(b)
}
