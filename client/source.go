package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/zeebo/blake3"
)

// VectorSpec describes the update a client should produce.
type VectorSpec struct {
	// Size is the number of float32 values.
	Size int
	// Seed selects the synthetic stream of a SeededSource. Zero derives the
	// seed from the round and client id.
	Seed uint64
}

// VectorSource supplies the update vector of a client for a round.
type VectorSource interface {
	Vector(ctx context.Context, round uint64, clientID string, spec VectorSpec) ([]float32, error)
}

var seededDomain = []byte("secagg/seeded-source/v1")

// SeededSource generates deterministic standard normal updates from a BLAKE3
// XOF stream. It stands in for a training step in demos and tests.
type SeededSource struct{}

func (SeededSource) Vector(ctx context.Context, round uint64, clientID string, spec VectorSpec) ([]float32, error) {
	if spec.Size <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", spec.Size)
	}

	hasher := blake3.New()
	hasher.Write(seededDomain)
	var buf [8]byte
	if spec.Seed != 0 {
		binary.BigEndian.PutUint64(buf[:], spec.Seed)
		hasher.Write(buf[:])
	} else {
		binary.BigEndian.PutUint64(buf[:], round)
		hasher.Write(buf[:])
		hasher.Write([]byte(clientID))
	}
	return normalVector(hasher.Digest(), spec.Size)
}

// normalVector draws n standard normal samples with the Box-Muller transform.
func normalVector(stream io.Reader, n int) ([]float32, error) {
	out := make([]float32, 0, n+1)
	var buf [16]byte
	for len(out) < n {
		if _, err := io.ReadFull(stream, buf[:]); err != nil {
			return nil, err
		}
		u1 := unitFloat(binary.LittleEndian.Uint64(buf[:8]))
		u2 := unitFloat(binary.LittleEndian.Uint64(buf[8:]))
		r := math.Sqrt(-2 * math.Log(u1))
		out = append(out,
			float32(r*math.Cos(2*math.Pi*u2)),
			float32(r*math.Sin(2*math.Pi*u2)))
	}
	return out[:n], nil
}

// unitFloat maps 53 random bits into (0, 1].
func unitFloat(x uint64) float64 {
	return float64((x>>11)+1) / (1 << 53)
}

// StaticSource serves fixed vectors keyed by client id.
type StaticSource map[string][]float32

var ErrNoVector = errors.New("no vector for client")

func (s StaticSource) Vector(ctx context.Context, round uint64, clientID string, spec VectorSpec) ([]float32, error) {
	v, ok := s[clientID]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoVector, clientID)
	}
	if spec.Size != 0 && spec.Size != len(v) {
		return nil, fmt.Errorf("client %s has %d values, requested %d", clientID, len(v), spec.Size)
	}
	return slices.Clone(v), nil
}
