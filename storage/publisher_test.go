package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashbots/secagg/protocol"
	"github.com/google/go-cmp/cmp"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

func testModelStore(t *testing.T, store ModelStore) {
	ctx := context.Background()
	model := protocol.NewGlobalModel(3, []float32{0.5, 0.25})
	manifest := protocol.NewManifest(model, []string{"a", "b"})

	_, _, err := store.LoadModel(ctx, 3)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Publish(ctx, model, manifest))
	require.NoError(t, store.Publish(ctx, model, manifest))

	got, raw, err := store.LoadModel(ctx, 3)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(manifest, got))
	require.Equal(t, model.Bytes(), raw)
	require.NoError(t, protocol.VerifyModel(got, raw))

	other := protocol.NewGlobalModel(3, []float32{1, 1})
	require.ErrorIs(t, store.Publish(ctx, other, protocol.NewManifest(other, []string{"a"})), ErrImmutable)
}

func TestFSPublisher(t *testing.T) {
	root := t.TempDir()
	p, err := NewFSPublisher(root)
	require.NoError(t, err)
	testModelStore(t, p)

	raw, err := os.ReadFile(filepath.Join(root, "round-3", "global_model.bin"))
	require.NoError(t, err)
	require.Len(t, raw, 8)
	_, err = os.Stat(filepath.Join(root, "round-3", "global_model.json"))
	require.NoError(t, err)
}

func TestMemoryPublisher(t *testing.T) {
	testModelStore(t, NewMemoryPublisher())
}

func TestCASPublisher(t *testing.T) {
	cas, err := NewModelCAS(t.TempDir())
	require.NoError(t, err)
	p := &CASPublisher{CAS: cas, Next: NewMemoryPublisher()}
	testModelStore(t, p)

	manifest, raw, err := p.LoadModel(context.Background(), 3)
	require.NoError(t, err)
	require.NotEmpty(t, manifest.CID)

	id, err := cid.Decode(manifest.CID)
	require.NoError(t, err)
	require.Equal(t, uint64(cid.Raw), id.Type())
	expected, err := ModelCID(raw)
	require.NoError(t, err)
	require.True(t, expected.Equals(id))
}

func TestModelCAS(t *testing.T) {
	cas, err := NewModelCAS(t.TempDir())
	require.NoError(t, err)

	id, err := cas.Put([]byte("model"))
	require.NoError(t, err)
	_, err = os.Stat(cas.objectPath(id))
	require.NoError(t, err)

	again, err := cas.Put([]byte("model"))
	require.NoError(t, err)
	require.True(t, id.Equals(again))

	data, err := cas.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("model"), data)

	missing, err := ModelCID([]byte("other"))
	require.NoError(t, err)
	_, err = cas.Get(missing)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = cas.Get(cid.Undef)
	require.ErrorIs(t, err, ErrInvalidCID)

	_, err = NewModelCAS("")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(cas.objectPath(id), []byte("tampered"), 0o644))
	_, err = cas.Get(id)
	require.ErrorIs(t, err, ErrCIDMismatch)
	_, err = cas.Put([]byte("model"))
	require.ErrorIs(t, err, ErrCIDMismatch)
}
