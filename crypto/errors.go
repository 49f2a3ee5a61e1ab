package crypto

import "errors"

var (
	// ErrEntropyFailure is returned when the random source cannot produce key
	// material or nonces. It is fatal: nothing derived afterwards can be trusted.
	ErrEntropyFailure = errors.New("entropy source failure")

	// ErrInvalidKey is returned for malformed or low-order X25519 public keys
	// and for private keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key")

	// ErrMalformedPackage is returned when a sealed package is missing fields,
	// carries fields of the wrong length, or names an unknown suite.
	ErrMalformedPackage = errors.New("malformed package")

	// ErrAuthenticationFailure is returned when the AEAD tag does not verify:
	// tampered ciphertext, nonce or ephemeral key, wrong associated data, or
	// the wrong private key.
	ErrAuthenticationFailure = errors.New("authentication failure")
)
