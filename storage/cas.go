package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ModelCID returns the CIDv1 (raw codec, sha2-256 multihash) of data.
func ModelCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ModelCAS keeps raw model bytes under <root>/<cid[:2]>/<cid>. Every model
// is written once and checked against its CID on read.
type ModelCAS struct {
	root string
}

func NewModelCAS(root string) (*ModelCAS, error) {
	if root == "" {
		return nil, errors.New("model cas root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &ModelCAS{root: root}, nil
}

// Put stores raw and returns its CID. Storing the same model again is a no-op.
func (c *ModelCAS) Put(raw []byte) (cid.Cid, error) {
	id, err := ModelCID(raw)
	if err != nil {
		return cid.Undef, err
	}
	path := c.objectPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}
	// Same CID, different bytes on disk: the stored object is corrupt.
	if err := writeOnce(path, raw); err != nil {
		if errors.Is(err, ErrImmutable) {
			return cid.Undef, fmt.Errorf("%w: %s", ErrCIDMismatch, id)
		}
		return cid.Undef, err
	}
	return id, nil
}

// Get returns the model stored under id.
func (c *ModelCAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	raw, err := os.ReadFile(c.objectPath(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	got, err := ModelCID(raw)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, fmt.Errorf("%w: %s holds %s", ErrCIDMismatch, id, got)
	}
	return raw, nil
}

func (c *ModelCAS) objectPath(id cid.Cid) string {
	s := id.String()
	return filepath.Join(c.root, s[:2], s)
}
