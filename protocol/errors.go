package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/flashbots/secagg/crypto"
)

var (
	// ErrNoPackages is returned when a round has no packages to aggregate.
	ErrNoPackages = errors.New("no packages for round")

	// ErrNotEnoughInputs is returned when fewer valid inputs than the
	// configured minimum remain for a round.
	ErrNotEnoughInputs = errors.New("not enough inputs for round")

	// ErrShapeMismatch is matched by every *ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDigestMismatch is returned when decrypted bytes do not hash to the
	// digest carried next to the ciphertext.
	ErrDigestMismatch = errors.New("plaintext digest mismatch")

	// ErrContextMismatch is returned when a package's metadata or payload
	// names a different round or client than the one it is stored under.
	ErrContextMismatch = errors.New("package context does not match round")

	// ErrNonFiniteValue is returned for NaN or infinite update values.
	ErrNonFiniteValue = errors.New("update contains non-finite value")

	// ErrInvalidClientID is returned for empty or unsafe client identifiers.
	ErrInvalidClientID = errors.New("invalid client id")
)

// ShapeMismatchError names the client whose update length differs from its peers.
type ShapeMismatchError struct {
	ClientID string
	Expected int
	Got      int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: client %s has %d values, expected %d", e.ClientID, e.Got, e.Expected)
}

// Is lets errors.Is(err, ErrShapeMismatch) match.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// FailureKind classifies why a single package was rejected.
type FailureKind string

const (
	KindAuthentication FailureKind = "authentication_failure"
	KindMalformed      FailureKind = "malformed_package"
	KindDigest         FailureKind = "digest_mismatch"
	KindContext        FailureKind = "context_mismatch"
	KindStore          FailureKind = "store_error"
	KindCanceled       FailureKind = "canceled"
)

// ClassifyFailure maps a per-package error to its FailureKind.
func ClassifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, crypto.ErrAuthenticationFailure):
		return KindAuthentication
	case errors.Is(err, crypto.ErrMalformedPackage), errors.Is(err, ErrNonFiniteValue):
		return KindMalformed
	case errors.Is(err, ErrDigestMismatch):
		return KindDigest
	case errors.Is(err, ErrContextMismatch):
		return KindContext
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindStore
	}
}

// RoundAbortedError reports the first package that stopped a round.
// It unwraps to the underlying cause.
type RoundAbortedError struct {
	Round    uint64
	ClientID string
	Kind     FailureKind
	Err      error
}

// NewRoundAbortedError classifies err and wraps it for the given client.
func NewRoundAbortedError(round uint64, clientID string, err error) *RoundAbortedError {
	return &RoundAbortedError{
		Round:    round,
		ClientID: clientID,
		Kind:     ClassifyFailure(err),
		Err:      err,
	}
}

func (e *RoundAbortedError) Error() string {
	return fmt.Sprintf("round %d aborted: client %s: %s: %v", e.Round, e.ClientID, e.Kind, e.Err)
}

func (e *RoundAbortedError) Unwrap() error {
	return e.Err
}
