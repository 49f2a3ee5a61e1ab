package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/flashbots/secagg/testutil"
	"github.com/stretchr/testify/require"
)

func testPackageStore(t *testing.T, store PackageStore) {
	ctx := context.Background()
	kp, err := testutil.GenerateTestKeyPair()
	require.NoError(t, err)

	ids, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = store.Read(ctx, 1, "c1")
	require.ErrorIs(t, err, ErrNotFound)

	packages := map[string]*protocol.EncryptedPackage{}
	for _, id := range []string{"c2", "c10", "c1"} {
		pkg, err := testutil.GenerateTestPackage(kp.Public, testutil.WithClientID(id))
		require.NoError(t, err)
		require.NoError(t, store.Write(ctx, 1, id, pkg))
		packages[id] = pkg
	}

	ids, err = store.List(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c10", "c2"}, ids)

	ids, err = store.List(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, ids)

	got, err := store.Read(ctx, 1, "c2")
	require.NoError(t, err)
	require.Equal(t, packages["c2"], got)

	// Identical bytes are idempotent, different bytes are rejected.
	require.NoError(t, store.Write(ctx, 1, "c2", packages["c2"]))
	other, err := testutil.GenerateTestPackage(kp.Public, testutil.WithClientID("c2"))
	require.NoError(t, err)
	require.ErrorIs(t, store.Write(ctx, 1, "c2", other), ErrImmutable)

	got, err = store.Read(ctx, 1, "c2")
	require.NoError(t, err)
	require.Equal(t, packages["c2"], got)

	require.ErrorIs(t, store.Write(ctx, 1, "../escape", other), protocol.ErrInvalidClientID)
}

func TestMemoryStore(t *testing.T) {
	testPackageStore(t, NewMemoryStore())
}

func TestFSStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)
	testPackageStore(t, store)

	_, err = os.Stat(filepath.Join(root, "round-1", "client-c10.cipher.json"))
	require.NoError(t, err)

	// Temporary files and foreign files are not listed.
	require.NoError(t, os.WriteFile(filepath.Join(root, "round-1", "notes.txt"), []byte("x"), 0o644))
	ids, err := store.List(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c10", "c2"}, ids)
}

func TestFSStoreCorruptFile(t *testing.T) {
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(RoundDir(root, 5), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(RoundDir(root, 5), "client-c1.cipher.json"), []byte("{"), 0o644))

	_, err = store.Read(context.Background(), 5, "c1")
	require.ErrorIs(t, err, crypto.ErrMalformedPackage)
}

func TestBoltStore(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "packages.db"))
	require.NoError(t, err)
	defer store.Close()
	testPackageStore(t, store)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SECAGG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SECAGG_TEST_POSTGRES_DSN not set")
	}
	store, err := OpenPostgresStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec("DELETE FROM encrypted_packages WHERE round IN (1, 2)")
	require.NoError(t, err)
	testPackageStore(t, store)
}

func TestStoresHonorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "packages.db"))
	require.NoError(t, err)
	defer bolt.Close()

	for _, store := range []PackageStore{fs, bolt} {
		_, err := store.List(ctx, 1)
		require.ErrorIs(t, err, context.Canceled)
	}
}
