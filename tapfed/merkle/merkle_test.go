package merkle

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(s string) [32]byte {
	return [32]byte(ethcrypto.Keccak256([]byte(s)))
}

func leaves(names ...string) [][32]byte {
	out := make([][32]byte, len(names))
	for i, n := range names {
		out[i] = leaf(n)
	}
	return out
}

func TestTreeRoot(t *testing.T) {
	t.Run("root independent of insertion order", func(t *testing.T) {
		a, err := New(leaves("w", "x", "y", "z"))
		require.NoError(t, err)
		b, err := New(leaves("z", "y", "x", "w"))
		require.NoError(t, err)

		assert.Equal(t, a.Root(), b.Root())
	})

	t.Run("root changes with the leaf set", func(t *testing.T) {
		a, err := New(leaves("w", "x", "y"))
		require.NoError(t, err)
		b, err := New(leaves("w", "x", "z"))
		require.NoError(t, err)

		assert.NotEqual(t, a.Root(), b.Root())
	})

	t.Run("single leaf is its own root", func(t *testing.T) {
		tree, err := New(leaves("only"))
		require.NoError(t, err)
		assert.Equal(t, leaf("only"), tree.Root())
	})

	t.Run("empty leaf set refused", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrEmptyTree)
	})
}

func TestProofs(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e"} // odd count exercises self-pairing
	tree, err := New(leaves(names...))
	require.NoError(t, err)
	root := tree.Root()

	t.Run("every leaf proves inclusion", func(t *testing.T) {
		for _, n := range names {
			proof, err := tree.Proof(leaf(n))
			require.NoError(t, err, "leaf %q", n)
			assert.True(t, Verify(root, leaf(n), proof), "leaf %q", n)
		}
	})

	t.Run("proof fails for the wrong leaf", func(t *testing.T) {
		proof, err := tree.Proof(leaf("a"))
		require.NoError(t, err)
		assert.False(t, Verify(root, leaf("b"), proof))
	})

	t.Run("proof fails against the wrong root", func(t *testing.T) {
		other, err := New(leaves("p", "q"))
		require.NoError(t, err)

		proof, err := tree.Proof(leaf("a"))
		require.NoError(t, err)
		assert.False(t, Verify(other.Root(), leaf("a"), proof))
	})

	t.Run("unknown leaf has no proof", func(t *testing.T) {
		_, err := tree.Proof(leaf("nope"))
		assert.Error(t, err)
	})

	t.Run("two leaves", func(t *testing.T) {
		pair, err := New(leaves("l", "r"))
		require.NoError(t, err)
		proof, err := pair.Proof(leaf("l"))
		require.NoError(t, err)
		require.Len(t, proof, 1)
		assert.True(t, Verify(pair.Root(), leaf("l"), proof))
	})
}
