package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/flashbots/secagg/crypto"
)

// UpdatePayload is the plaintext sealed by a client: its metadata and the
// flat update vector.
type UpdatePayload struct {
	Meta Metadata  `json:"meta"`
	Data []float32 `json:"data"`
}

// NewUpdatePayload builds a payload for a one-dimensional update.
func NewUpdatePayload(round uint64, clientID string, data []float32) *UpdatePayload {
	return &UpdatePayload{
		Meta: Metadata{
			Round:    round,
			ClientID: clientID,
			Shape:    []int{len(data)},
			DType:    DTypeFloat32,
		},
		Data: data,
	}
}

// Canonical returns the reproducible encoding hashed and sealed by clients:
// compact JSON, fixed field order, no HTML escaping, float32 values in
// shortest round-trip form.
func (u *UpdatePayload) Canonical() ([]byte, error) {
	for i, v := range u.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w at index %d", ErrNonFiniteValue, i)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(u); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseUpdatePayload decodes decrypted bytes and checks that the payload's
// own metadata is consistent with its data.
func ParseUpdatePayload(plaintext []byte) (*UpdatePayload, error) {
	var u UpdatePayload
	if err := json.Unmarshal(plaintext, &u); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", crypto.ErrMalformedPackage, err)
	}
	if u.Meta.DType != DTypeFloat32 {
		return nil, fmt.Errorf("%w: unsupported dtype %q", crypto.ErrMalformedPackage, u.Meta.DType)
	}
	size, err := u.Meta.Size()
	if err != nil {
		return nil, err
	}
	if size != len(u.Data) {
		return nil, fmt.Errorf("%w: shape declares %d values, payload has %d", crypto.ErrMalformedPackage, size, len(u.Data))
	}
	return &u, nil
}
