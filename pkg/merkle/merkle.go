// Package merkle builds binary hash trees over ordered transaction digests
// and produces membership proofs for them.
package merkle

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// EmptyRoot is the root of a tree with no leaves. It is a fixed sentinel
// derived from a domain tag so an empty block cannot masquerade as one whose
// transactions happen to hash to zero.
var EmptyRoot = crypto.Hash([]byte("merkle/empty-tree"))

// Domain-separation prefixes. Leaves and interior nodes hash under distinct
// tags so an interior digest cannot be replayed as a leaf (or vice versa).
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// leafHash digests a leaf under the leaf domain.
func leafHash(leaf types.Hash) types.Hash {
	buf := make([]byte, 0, 1+len(leaf))
	buf = append(buf, leafPrefix)
	buf = append(buf, leaf[:]...)
	return crypto.Hash(buf)
}

// nodeHash digests an interior node pair under the node domain.
func nodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 0, 1+len(left)+len(right))
	buf = append(buf, nodePrefix)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return crypto.Hash(buf)
}

// ErrIndexOutOfRange is returned by Proof for an index with no leaf.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

// Side marks which side of the pair a proof step's digest sits on.
type Side uint8

const (
	// Left means the step digest is the left operand when hashing upward.
	Left Side = iota
	// Right means the step digest is the right operand.
	Right
)

// ProofStep is one level of a membership proof: the sibling digest and the
// side it occupies.
type ProofStep struct {
	Digest types.Hash `json:"digest"`
	Side   Side       `json:"side"`
}

// Tree is a binary hash tree over an ordered sequence of leaf digests.
// Leaf order is significant: it is the inclusion order in the block.
type Tree struct {
	leafCount int
	levels    [][]types.Hash // levels[0] = leaves (padded), last = root
}

// Build constructs a tree from the given leaf digests. Each leaf is rehashed
// under the leaf domain before pairing. On an odd count at any level the last
// node is duplicated, mirroring common light-client schemes. Build is O(n);
// the input slice is not retained.
func Build(leaves []types.Hash) *Tree {
	t := &Tree{leafCount: len(leaves)}
	if len(leaves) == 0 {
		return t
	}

	level := make([]types.Hash, len(leaves))
	for i, leaf := range leaves {
		level[i] = leafHash(leaf)
	}

	for {
		if len(level)%2 != 0 && len(level) > 1 {
			level = append(level, level[len(level)-1])
		}
		t.levels = append(t.levels, level)
		if len(level) == 1 {
			return t
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = nodeHash(level[i], level[i+1])
		}
		level = next
	}
}

// Root returns the tree's root digest, or EmptyRoot for a tree with no leaves.
func (t *Tree) Root() types.Hash {
	if t.leafCount == 0 {
		return EmptyRoot
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the membership proof for the leaf at the given index: the
// ordered sequence of sibling digests from the leaf level up to (excluding)
// the root. Verification with VerifyProof is O(log n).
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= t.leafCount {
		return nil, fmt.Errorf("%w: index %d, %d leaves", ErrIndexOutOfRange, index, t.leafCount)
	}

	var proof []ProofStep
	i := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if i%2 == 0 {
			proof = append(proof, ProofStep{Digest: level[sibling], Side: Right})
		} else {
			proof = append(proof, ProofStep{Digest: level[sibling], Side: Left})
		}
		i /= 2
	}
	return proof, nil
}

// Root computes the root of the given leaves without retaining the tree.
func Root(leaves []types.Hash) types.Hash {
	return Build(leaves).Root()
}

// VerifyProof recomputes the path from leaf upward through the proof and
// compares the result to root. The leaf is the bare transaction digest, as
// passed to Build; the leaf-domain rehash happens here.
func VerifyProof(leaf types.Hash, proof []ProofStep, root types.Hash) bool {
	h := leafHash(leaf)
	for _, step := range proof {
		if step.Side == Right {
			h = nodeHash(h, step.Digest)
		} else {
			h = nodeHash(step.Digest, h)
		}
	}
	return h == root
}
