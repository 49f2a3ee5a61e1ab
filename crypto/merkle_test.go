package crypto

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLeaves(n int) []Digest {
	leaves := make([]Digest, n)
	for i := range leaves {
		leaves[i] = Sum([]byte(fmt.Sprintf("client-%d", i)))
	}
	return leaves
}

func TestMerkleRootEmpty(t *testing.T) {
	_, err := MerkleRoot(nil)
	require.ErrorIs(t, err, ErrEmptyTree)

	_, err = MerkleProof(nil, 0)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestMerkleRootDeterministicAndOrderSensitive(t *testing.T) {
	leaves := testLeaves(5)

	a, err := MerkleRoot(leaves)
	require.NoError(t, err)
	b, err := MerkleRoot(leaves)
	require.NoError(t, err)
	require.Equal(t, a, b)

	swapped := append([]Digest(nil), leaves...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	c, err := MerkleRoot(swapped)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestMerkleProofs(t *testing.T) {
	for n := 1; n <= 9; n++ {
		leaves := testLeaves(n)
		root, err := MerkleRoot(leaves)
		require.NoError(t, err)

		for i := range leaves {
			proof, err := MerkleProof(leaves, i)
			require.NoError(t, err)
			require.True(t, VerifyMerkleProof(leaves[i], proof, root), "n=%d i=%d", n, i)

			other := Sum([]byte("not included"))
			require.False(t, VerifyMerkleProof(other, proof, root), "n=%d i=%d", n, i)
		}
	}
}

func TestMerkleProofOutOfRange(t *testing.T) {
	_, err := MerkleProof(testLeaves(3), 3)
	require.Error(t, err)
	_, err = MerkleProof(testLeaves(3), -1)
	require.Error(t, err)
}

func TestDigestText(t *testing.T) {
	d := Sum([]byte("abc"))
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d.String())

	parsed, err := ParseDigest(d.String())
	require.NoError(t, err)
	require.Equal(t, d, parsed)

	var decoded Digest
	require.Error(t, decoded.UnmarshalText([]byte("abcd")))
	require.Error(t, decoded.UnmarshalText(nil))
	require.True(t, decoded.IsZero())
}
