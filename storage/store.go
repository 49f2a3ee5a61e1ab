package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/flashbots/secagg/protocol"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrImmutable   = errors.New("storage: immutable object mismatch")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// PackageStore stores the encrypted packages submitted for each round.
type PackageStore interface {
	// List returns the client ids with a package in round, sorted.
	List(ctx context.Context, round uint64) ([]string, error)
	// Read returns the package stored for id, or ErrNotFound.
	Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error)
	// Write stores pkg under id. Stores are write-once per id.
	Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error
}

// encodeForWrite validates id and returns the bytes persisted for pkg.
func encodeForWrite(id string, pkg *protocol.EncryptedPackage) ([]byte, error) {
	if err := protocol.ValidateClientID(id); err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errors.New("storage: nil package")
	}
	data, err := pkg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding package: %w", err)
	}
	return data, nil
}

// checkExisting implements write-once semantics against already stored bytes.
func checkExisting(existing, data []byte) error {
	if bytes.Equal(existing, data) {
		return nil
	}
	return ErrImmutable
}

func decodeStored(round uint64, id string, data []byte) (*protocol.EncryptedPackage, error) {
	pkg, err := protocol.DecodePackage(data)
	if err != nil {
		return nil, fmt.Errorf("round %d client %s: %w", round, id, err)
	}
	return pkg, nil
}
