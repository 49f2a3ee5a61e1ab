package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Digest is a SHA-256 hash, rendered as lowercase hex.
type Digest [sha256.Size]byte

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// ParseDigest decodes a hex-encoded SHA-256 digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest hex: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return errors.New("empty digest")
	}
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
