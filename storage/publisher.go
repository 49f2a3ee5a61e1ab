package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flashbots/secagg/protocol"
	"github.com/ipfs/go-cid"
)

const (
	modelFile    = "global_model.bin"
	manifestFile = "global_model.json"
)

// Publisher makes an aggregated model and its manifest available.
// Publishing a round twice with different content fails with ErrImmutable.
type Publisher interface {
	Publish(ctx context.Context, model *protocol.GlobalModel, manifest *protocol.Manifest) error
}

// ModelReader loads a published model back.
type ModelReader interface {
	LoadModel(ctx context.Context, round uint64) (*protocol.Manifest, []byte, error)
}

// ModelStore both publishes and serves models.
type ModelStore interface {
	Publisher
	ModelReader
}

// FSPublisher writes <root>/round-<R>/global_model.bin and global_model.json.
type FSPublisher struct {
	root string
}

// NewFSPublisher creates the output root if needed.
func NewFSPublisher(root string) (*FSPublisher, error) {
	if root == "" {
		return nil, errors.New("fspublisher: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSPublisher{root: root}, nil
}

func (p *FSPublisher) Publish(ctx context.Context, model *protocol.GlobalModel, manifest *protocol.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	dir := RoundDir(p.root, model.Round)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// The raw model goes first: a manifest on disk always has its model.
	if err := writeOnce(filepath.Join(dir, modelFile), model.Bytes()); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	if err := writeOnce(filepath.Join(dir, manifestFile), append(manifestJSON, '\n')); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func (p *FSPublisher) LoadModel(ctx context.Context, round uint64) (*protocol.Manifest, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	dir := RoundDir(p.root, round)
	manifestJSON, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	manifest, err := protocol.UnmarshalMessage[protocol.Manifest](manifestJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding manifest: %w", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, nil, err
	}
	return manifest, raw, nil
}

// writeOnce creates path with data, accepting an existing identical file.
func writeOnce(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				return ErrImmutable
			}
			return checkExisting(existing, data)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// CASPublisher stores the raw model in a ModelCAS, records its CID in the
// manifest and hands both to Next.
type CASPublisher struct {
	CAS  *ModelCAS
	Next ModelStore
}

func (p *CASPublisher) Publish(ctx context.Context, model *protocol.GlobalModel, manifest *protocol.Manifest) error {
	id, err := p.CAS.Put(model.Bytes())
	if err != nil {
		return fmt.Errorf("storing model in cas: %w", err)
	}
	manifest.CID = id.String()
	return p.Next.Publish(ctx, model, manifest)
}

// LoadModel reads the manifest from Next and the raw bytes from the CAS.
func (p *CASPublisher) LoadModel(ctx context.Context, round uint64) (*protocol.Manifest, []byte, error) {
	manifest, raw, err := p.Next.LoadModel(ctx, round)
	if err != nil || manifest.CID == "" {
		return manifest, raw, err
	}
	id, err := cid.Decode(manifest.CID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	raw, err = p.CAS.Get(id)
	if err != nil {
		return nil, nil, err
	}
	return manifest, raw, nil
}

// MemoryPublisher keeps published models in memory.
type MemoryPublisher struct {
	mu     sync.RWMutex
	models map[uint64]publishedModel
}

type publishedModel struct {
	manifest []byte
	raw      []byte
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{models: make(map[uint64]publishedModel)}
}

func (p *MemoryPublisher) Publish(ctx context.Context, model *protocol.GlobalModel, manifest *protocol.Manifest) error {
	manifestJSON, err := protocol.SerializeMessage(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	entry := publishedModel{manifest: manifestJSON, raw: model.Bytes()}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.models[model.Round]; ok {
		if checkExisting(existing.manifest, entry.manifest) != nil || checkExisting(existing.raw, entry.raw) != nil {
			return ErrImmutable
		}
		return nil
	}
	p.models[model.Round] = entry
	return nil
}

func (p *MemoryPublisher) LoadModel(ctx context.Context, round uint64) (*protocol.Manifest, []byte, error) {
	p.mu.RLock()
	entry, ok := p.models[round]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	manifest, err := protocol.UnmarshalMessage[protocol.Manifest](entry.manifest)
	if err != nil {
		return nil, nil, err
	}
	return manifest, append([]byte(nil), entry.raw...), nil
}
