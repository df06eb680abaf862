// Package merkle builds the commitment trees registered with each round:
// keccak256 over sorted 32-byte leaves, odd nodes paired with themselves.
// The root is what RoundRegistered carries on-chain; proofs let anyone
// check a single ciphertext commitment against that root without the
// full leaf set.
package merkle

import (
	"bytes"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ErrEmptyTree is returned when a tree is built from zero leaves.
var ErrEmptyTree = errors.New("merkle: no leaves")

// Tree is an immutable Merkle tree over 32-byte leaves. Leaves are
// sorted at construction so the root depends only on the leaf set, not
// on insertion order.
type Tree struct {
	// levels[0] is the sorted leaf layer; the last level is the root.
	levels [][][32]byte
}

// New builds a tree from the given leaves. Duplicate leaves are kept;
// two distinct participants never share a commitment because the
// commitment binds the participant id.
func New(leaves [][32]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	sorted := make([][32]byte, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	levels := [][][32]byte{sorted}
	for current := sorted; len(current) > 1; {
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashPair(current[i], current[i+1]))
			} else {
				// Odd node: hash with itself.
				next = append(next, hashPair(current[i], current[i]))
			}
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash [32]byte
	// Left is true when the sibling sits to the left of the path node.
	Left bool
}

// Proof returns the inclusion proof for the given leaf, or an error when
// the leaf is not in the tree.
func (t *Tree) Proof(leaf [32]byte) ([]ProofStep, error) {
	idx := -1
	for i, l := range t.levels[0] {
		if l == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.New("merkle: leaf not in tree")
	}

	var proof []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx
		}
		proof = append(proof, ProofStep{
			Hash: level[sibling],
			Left: sibling < idx,
		})
		idx /= 2
	}
	return proof, nil
}

// Verify checks an inclusion proof against a root.
func Verify(root, leaf [32]byte, proof []ProofStep) bool {
	node := leaf
	for _, step := range proof {
		if step.Left {
			node = hashPair(step.Hash, node)
		} else {
			node = hashPair(node, step.Hash)
		}
	}
	return node == root
}

func hashPair(left, right [32]byte) [32]byte {
	return [32]byte(ethcrypto.Keccak256(left[:], right[:]))
}
