package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/flashbots/secagg/crypto"
	"github.com/stretchr/testify/require"
)

func TestFloat32Encoding(t *testing.T) {
	values := []float32{1, -0.5, 0.33333334, 0}
	raw := EncodeFloat32s(values)
	require.Len(t, raw, 16)
	require.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, raw[:4])

	decoded, err := DecodeFloat32s(raw)
	require.NoError(t, err)
	require.Equal(t, values, decoded)

	_, err = DecodeFloat32s(raw[:5])
	require.Error(t, err)
}

func TestGlobalModelDigest(t *testing.T) {
	model := NewGlobalModel(2, []float32{0.25, 0.75})
	require.Equal(t, crypto.Digest(sha256.Sum256(model.Bytes())), model.Digest)
}

func TestManifestJSON(t *testing.T) {
	model := NewGlobalModel(4, []float32{1, 2, 3})
	manifest := NewManifest(model, []string{"a", "b"})

	encoded, err := json.Marshal(manifest)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(encoded, &wire))
	require.Equal(t, []any{float64(3)}, wire["shape"])
	require.Equal(t, "float32", wire["dtype"])
	require.Equal(t, model.Digest.String(), wire["sha256"])
	require.NotContains(t, wire, "inputs_root")

	var decoded Manifest
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, *manifest, decoded)
}

func TestVerifyModel(t *testing.T) {
	model := NewGlobalModel(1, []float32{1, 2, 3, 4})
	manifest := NewManifest(model, []string{"c1"})
	raw := model.Bytes()

	require.NoError(t, VerifyModel(manifest, raw))

	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 1
	require.ErrorIs(t, VerifyModel(manifest, tampered), ErrDigestMismatch)

	require.ErrorIs(t, VerifyModel(manifest, raw[:12]), ErrShapeMismatch)

	other := *manifest
	other.DType = "float16"
	require.Error(t, VerifyModel(&other, raw))
}
