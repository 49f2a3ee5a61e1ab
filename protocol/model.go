package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/flashbots/secagg/crypto"
)

// GlobalModel is the averaged update of one round.
// Digest is the SHA-256 of the raw little-endian float32 bytes of Values.
type GlobalModel struct {
	Round  uint64
	Values []float32
	Digest crypto.Digest
}

// NewGlobalModel computes the digest of values and returns the model.
func NewGlobalModel(round uint64, values []float32) *GlobalModel {
	return &GlobalModel{
		Round:  round,
		Values: values,
		Digest: crypto.Sum(EncodeFloat32s(values)),
	}
}

// Bytes returns the raw little-endian float32 encoding of the values.
func (m *GlobalModel) Bytes() []byte {
	return EncodeFloat32s(m.Values)
}

// EncodeFloat32s encodes values as flat little-endian float32.
func EncodeFloat32s(values []float32) []byte {
	raw := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return raw
}

// DecodeFloat32s decodes flat little-endian float32 bytes.
func DecodeFloat32s(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("raw model length %d is not a multiple of 4", len(raw))
	}
	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values, nil
}

// Manifest describes a published GlobalModel.
type Manifest struct {
	Shape  []int         `json:"shape"`
	DType  string        `json:"dtype"`
	SHA256 crypto.Digest `json:"sha256"`

	Round      uint64         `json:"round"`
	Inputs     int            `json:"inputs"`
	Clients    []string       `json:"clients,omitempty"`
	InputsRoot *crypto.Digest `json:"inputs_root,omitempty"`
	CID        string         `json:"cid,omitempty"`
}

// NewManifest describes model as aggregated from the given clients, in
// reduction order.
func NewManifest(model *GlobalModel, clients []string) *Manifest {
	return &Manifest{
		Shape:   []int{len(model.Values)},
		DType:   DTypeFloat32,
		SHA256:  model.Digest,
		Round:   model.Round,
		Inputs:  len(clients),
		Clients: slices.Clone(clients),
	}
}

// VerifyModel checks raw model bytes against a manifest.
func VerifyModel(manifest *Manifest, raw []byte) error {
	if manifest.DType != DTypeFloat32 {
		return fmt.Errorf("unsupported dtype %q", manifest.DType)
	}
	meta := Metadata{Shape: manifest.Shape}
	size, err := meta.Size()
	if err != nil {
		return err
	}
	if len(raw) != 4*size {
		return fmt.Errorf("%w: manifest declares %d values, raw model has %d bytes", ErrShapeMismatch, size, len(raw))
	}
	if got := crypto.Sum(raw); got != manifest.SHA256 {
		return fmt.Errorf("%w: manifest %s, raw model %s", ErrDigestMismatch, manifest.SHA256, got)
	}
	return nil
}
