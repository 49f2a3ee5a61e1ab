package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/flashbots/secagg/protocol"
)

const (
	packagePrefix = "client-"
	packageSuffix = ".cipher.json"
)

// RoundDir returns the directory holding the files of round under root.
func RoundDir(root string, round uint64) string {
	return filepath.Join(root, fmt.Sprintf("round-%d", round))
}

// FSStore implements PackageStore on a directory tree:
// <root>/round-<R>/client-<id>.cipher.json.
type FSStore struct {
	root string
}

// NewFSStore constructs a filesystem store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("fsstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) List(ctx context.Context, round uint64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(RoundDir(s.root, round))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, packagePrefix) || !strings.HasSuffix(name, packageSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, packagePrefix), packageSuffix)
		if protocol.ValidateClientID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *FSStore) Read(ctx context.Context, round uint64, id string) (*protocol.EncryptedPackage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := protocol.ValidateClientID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(round, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeStored(round, id, data)
}

// Write stores the package through a temporary file hard-linked into place,
// so readers never observe a partial package and concurrent writers of the
// same id cannot both succeed with different bytes.
func (s *FSStore) Write(ctx context.Context, round uint64, id string, pkg *protocol.EncryptedPackage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeForWrite(id, pkg)
	if err != nil {
		return err
	}

	dir := RoundDir(s.root, round)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+id+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	path := s.pathFor(round, id)
	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				return ErrImmutable
			}
			return checkExisting(existing, data)
		}
		return err
	}
	return nil
}

func (s *FSStore) pathFor(round uint64, id string) string {
	return filepath.Join(RoundDir(s.root, round), packagePrefix+id+packageSuffix)
}
