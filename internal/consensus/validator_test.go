package consensus

import (
	"errors"
	"testing"

	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

func TestValidatorStructuralBeforeConsensus(t *testing.T) {
	key := newKey(t)
	v := NewValidator(mustPoA(t, key))

	// Structurally broken: claimed merkle root does not match (no txs, so
	// the root must be the empty sentinel).
	blk := signedBlock(t, key, 1, types32(0xaa), func(h *block.Header) {
		h.MerkleRoot = types.Hash{0x01}
	})
	err := v.ValidateBlock(blk, newFakeView())
	if !errors.Is(err, block.ErrBadMerkleRoot) {
		t.Fatalf("err = %v, want ErrBadMerkleRoot", err)
	}
}

func TestValidatorConsensusAfterStructural(t *testing.T) {
	authority := newKey(t)
	v := NewValidator(mustPoA(t, authority))

	// Structurally fine but signed by a non-authority.
	blk := signedBlock(t, newKey(t), 1, types32(0xaa), nil)
	if err := v.ValidateBlock(blk, newFakeView()); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("err = %v, want ErrNotAuthority", err)
	}

	good := signedBlock(t, authority, 1, types32(0xaa), nil)
	if err := v.ValidateBlock(good, newFakeView()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
