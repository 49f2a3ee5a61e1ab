package aggregator

import (
	"errors"
	"fmt"
	"math"

	"github.com/flashbots/secagg/crypto"
	"github.com/flashbots/secagg/protocol"
	"github.com/montanaflynn/stats"
)

// Leaf is one input of the round commitment: the SHA-256 of a client's
// decrypted payload.
type Leaf struct {
	ClientID string        `json:"client_id"`
	Digest   crypto.Digest `json:"plaintext_sha256"`
}

// Exclusion records a package dropped under ExcludeInvalid.
type Exclusion struct {
	ClientID string               `json:"client_id"`
	Kind     protocol.FailureKind `json:"kind"`
	Error    string               `json:"error"`
}

// NormStats summarizes the L2 norms of the averaged updates.
type NormStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Max    float64 `json:"max"`
}

// Report describes a published round.
type Report struct {
	Round      uint64        `json:"round"`
	Inputs     int           `json:"inputs"`
	Dim        int           `json:"dim"`
	SHA256     crypto.Digest `json:"sha256"`
	InputsRoot crypto.Digest `json:"inputs_root"`
	Leaves     []Leaf        `json:"leaves"`
	Excluded   []Exclusion   `json:"excluded,omitempty"`
	Padded     []string      `json:"padded,omitempty"`
	Norms      NormStats     `json:"norms"`
}

// ErrNotIncluded is returned for a client whose update is not in the round.
var ErrNotIncluded = errors.New("client not included in round")

// InclusionProof shows that a client's payload digest is committed to by a
// manifest's inputs_root.
type InclusionProof struct {
	Round    uint64             `json:"round"`
	ClientID string             `json:"client_id"`
	Leaf     crypto.Digest      `json:"leaf"`
	Index    int                `json:"index"`
	Proof    []crypto.ProofStep `json:"proof"`
	Root     crypto.Digest      `json:"root"`
}

// InclusionProof builds the proof for clientID.
func (r *Report) InclusionProof(clientID string) (*InclusionProof, error) {
	leaves := make([]crypto.Digest, len(r.Leaves))
	index := -1
	for i, l := range r.Leaves {
		leaves[i] = l.Digest
		if l.ClientID == clientID {
			index = i
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotIncluded, clientID)
	}
	proof, err := crypto.MerkleProof(leaves, index)
	if err != nil {
		return nil, err
	}
	return &InclusionProof{
		Round:    r.Round,
		ClientID: clientID,
		Leaf:     leaves[index],
		Index:    index,
		Proof:    proof,
		Root:     r.InputsRoot,
	}, nil
}

// Verify checks the proof against its own root.
func (p *InclusionProof) Verify() bool {
	return crypto.VerifyMerkleProof(p.Leaf, p.Proof, p.Root)
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func normStats(updates []*verifiedUpdate) NormStats {
	norms := make(stats.Float64Data, len(updates))
	for i, u := range updates {
		norms[i] = l2Norm(u.data)
	}
	var s NormStats
	s.Mean, _ = stats.Mean(norms)
	s.Median, _ = stats.Median(norms)
	s.StdDev, _ = stats.StandardDeviation(norms)
	s.Max, _ = stats.Max(norms)
	return s
}
