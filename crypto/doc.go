// Package crypto provides the cryptographic primitives of the secure
// aggregation pipeline.
//
// This package implements:
//
//   - X25519 key pairs for the aggregator and for per-message ephemeral keys
//   - A hybrid cipher: ephemeral X25519 key agreement, HKDF-SHA256 key
//     derivation under a fixed protocol label, and AES-256-GCM with
//     caller-supplied associated data
//   - SHA-256 digests with hex text encoding
//   - A Merkle commitment over per-client digests with inclusion proofs
//
// # Hybrid Cipher
//
// Encrypt generates a fresh ephemeral key for every call and wipes the
// ephemeral private key and the derived symmetric key before returning.
// Decrypt either returns the original plaintext or fails; failures are
// classified with the sentinel errors ErrMalformedPackage and
// ErrAuthenticationFailure and must be treated as hard rejections.
//
// # Key Management
//
// PrivateKey values redact themselves when formatted. Export them only
// through PrivateKey.Base64 into a key store owned by the key holder.
package crypto
