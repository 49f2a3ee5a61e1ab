package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// Leaves and interior nodes are hashed under distinct prefixes so a node
// can never be passed off as a leaf.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// ErrEmptyTree is returned when a Merkle root or proof is requested over no leaves.
var ErrEmptyTree = errors.New("merkle tree has no leaves")

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Sibling Digest `json:"sibling"`
	// Left is true when the sibling sits to the left of the running hash.
	Left bool `json:"left"`
}

// MerkleRoot computes the root of a binary SHA-256 tree over leaves, in the
// given order. An odd node at any level is paired with itself.
func MerkleRoot(leaves []Digest) (Digest, error) {
	if len(leaves) == 0 {
		return Digest{}, ErrEmptyTree
	}
	level := hashLeaves(leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// MerkleProof returns the inclusion proof for leaves[index].
func MerkleProof(leaves []Digest, index int) ([]ProofStep, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0,%d)", index, len(leaves))
	}

	var proof []ProofStep
	level := hashLeaves(leaves)
	for len(level) > 1 {
		if index%2 == 0 {
			sibling := level[index]
			if index+1 < len(level) {
				sibling = level[index+1]
			}
			proof = append(proof, ProofStep{Sibling: sibling, Left: false})
		} else {
			proof = append(proof, ProofStep{Sibling: level[index-1], Left: true})
		}
		level = nextLevel(level)
		index /= 2
	}
	return proof, nil
}

// VerifyMerkleProof checks that leaf is included under root.
func VerifyMerkleProof(leaf Digest, proof []ProofStep, root Digest) bool {
	running := hashLeaf(leaf)
	for _, step := range proof {
		if step.Left {
			running = hashNode(step.Sibling, running)
		} else {
			running = hashNode(running, step.Sibling)
		}
	}
	return running == root
}

func hashLeaves(leaves []Digest) []Digest {
	level := make([]Digest, len(leaves))
	for i, l := range leaves {
		level[i] = hashLeaf(l)
	}
	return level
}

func nextLevel(level []Digest) []Digest {
	next := make([]Digest, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashNode(level[i], right))
	}
	return next
}

func hashLeaf(d Digest) Digest {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(d[:])
	return Digest(h.Sum(nil))
}

func hashNode(left, right Digest) Digest {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left[:])
	h.Write(right[:])
	return Digest(h.Sum(nil))
}
