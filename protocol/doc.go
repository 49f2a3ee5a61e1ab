// Package protocol defines the data exchanged by clients, package stores and
// the aggregator in a secure-aggregation round.
//
// # Encrypted Packages
//
// A client seals one UpdatePayload per round. The payload is the canonical
// JSON encoding of its Metadata and flat float32 vector. The sealed bytes,
// the ephemeral public key, the nonce and the associated data travel in an
// EncryptedPackage:
//
//	{
//	  "version": 1,
//	  "enc": "X25519-AESGCM",
//	  "epk": "<b64>", "nonce": "<b64>", "ciphertext": "<b64>", "aad": "<b64>",
//	  "meta": {"round": 7, "client_id": "c1", "shape": [4], "dtype": "float32"},
//	  "plaintext_sha256": "<hex>"
//	}
//
// The associated data is BuildAAD(round, client, size), i.e. the ASCII string
// "round:<R>|client:<C>|size:<S>". The aggregator never trusts the carried
// aad: it rebuilds the expected value from the round it is aggregating, the
// client id the package is stored under and the declared shape.
//
// # Published Models
//
// The result of a round is a GlobalModel, published as raw little-endian
// float32 bytes next to a Manifest carrying the shape, dtype and SHA-256 of
// those bytes. VerifyModel checks a raw model against its manifest.
//
// # Errors
//
// Cipher errors (crypto.ErrMalformedPackage, crypto.ErrAuthenticationFailure)
// pass through unchanged. Round-level failures are ErrNoPackages,
// ErrNotEnoughInputs, *ShapeMismatchError and *RoundAbortedError.
package protocol
