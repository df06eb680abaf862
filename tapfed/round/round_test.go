package round

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapfed/tapfed-node/tapfed/blob"
	"github.com/tapfed/tapfed-node/tapfed/merkle"
	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

func buildEntries(t *testing.T, blobs blob.Store, roundID uint64, vectors map[uint64][]int64) []Entry {
	t.Helper()
	params, _, err := threshold.Generate(3, 2, nil)
	require.NoError(t, err)

	entries := make([]Entry, 0, len(vectors))
	for pid, v := range vectors {
		entry, _, err := EncryptEntry(params.PK, roundID, pid, v, blobs, nil)
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}

func TestEncryptEntry(t *testing.T) {
	blobs := blob.NewMemoryStore()
	params, _, err := threshold.Generate(3, 2, nil)
	require.NoError(t, err)

	entry, ct, err := EncryptEntry(params.PK, 7, 2, []int64{1, -2, 3}, blobs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.ParticipantID)

	t.Run("blob holds the ciphertext", func(t *testing.T) {
		raw, err := blobs.Get(entry.Cid)
		require.NoError(t, err)
		assert.Equal(t, ct.Bytes(), raw)
	})

	t.Run("commitment matches the ciphertext", func(t *testing.T) {
		want := ct.Commitment(7, 2)
		got, err := entry.CommitmentBytes()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestBuild(t *testing.T) {
	t.Run("entries sorted and proven", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		entries := buildEntries(t, blobs, 1, map[uint64][]int64{
			3: {1}, 1: {2}, 2: {3},
		})

		r, err := Build(1, entries, blobs)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), r.RoundID)
		require.Len(t, r.Entries, 3)
		assert.Equal(t, uint64(1), r.Entries[0].ParticipantID)
		assert.Equal(t, uint64(2), r.Entries[1].ParticipantID)
		assert.Equal(t, uint64(3), r.Entries[2].ParticipantID)

		// Every commitment is a leaf of the registered root.
		for _, e := range r.Entries {
			leafBytes, err := e.CommitmentBytes()
			require.NoError(t, err)
			tree, err := merkle.New(commitmentLeaves(t, r.Entries))
			require.NoError(t, err)
			proof, err := tree.Proof(leafBytes)
			require.NoError(t, err)
			assert.True(t, merkle.Verify(r.MerkleRoot, leafBytes, proof))
		}
	})

	t.Run("manifest blob readable and consistent", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		entries := buildEntries(t, blobs, 9, map[uint64][]int64{1: {5}, 2: {6}})

		r, err := Build(9, entries, blobs)
		require.NoError(t, err)

		m, err := LoadManifest(blobs, r.MetadataCid)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), m.RoundID)
		assert.Equal(t, hex.EncodeToString(r.MerkleRoot[:]), m.MerkleRoot)
		assert.Equal(t, r.Entries, m.Entries)
	})

	t.Run("empty round refused", func(t *testing.T) {
		_, err := Build(1, nil, blob.NewMemoryStore())
		assert.ErrorIs(t, err, ErrEmptyRound)
	})

	t.Run("duplicate participant refused", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		entries := buildEntries(t, blobs, 1, map[uint64][]int64{1: {5}, 2: {6}})
		dup := entries[0]
		dup.ParticipantID = entries[1].ParticipantID

		_, err := Build(1, append(entries, dup), blobs)
		assert.ErrorIs(t, err, ErrDuplicateParticipant)
	})

	t.Run("malformed commitment refused", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		entries := buildEntries(t, blobs, 1, map[uint64][]int64{1: {5}})
		entries[0].Commitment = "zz"

		_, err := Build(1, entries, blobs)
		assert.Error(t, err)
	})
}

func commitmentLeaves(t *testing.T, entries []Entry) [][32]byte {
	t.Helper()
	out := make([][32]byte, len(entries))
	for i, e := range entries {
		leaf, err := e.CommitmentBytes()
		require.NoError(t, err)
		out[i] = leaf
	}
	return out
}
