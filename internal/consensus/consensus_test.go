package consensus

// Shared fixtures for the engine tests: an in-memory chain view and block
// builders for the leader-based variants.

import (
	"testing"

	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/merkle"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// fakeView is an in-memory View. Blocks register in arrival order so
// earliest-seen tie-breaking is observable.
type fakeView struct {
	height  uint64
	tip     types.Hash
	shard   uint32
	headers map[types.Hash]*block.Header
	seen    map[types.Hash]uint64
	order   uint64
}

func newFakeView() *fakeView {
	return &fakeView{
		headers: make(map[types.Hash]*block.Header),
		seen:    make(map[types.Hash]uint64),
	}
}

func (v *fakeView) Height() uint64      { return v.height }
func (v *fakeView) TipHash() types.Hash { return v.tip }
func (v *fakeView) ShardID() uint32     { return v.shard }

func (v *fakeView) HeaderByHash(h types.Hash) (*block.Header, bool) {
	hdr, ok := v.headers[h]
	return hdr, ok
}

func (v *fakeView) SeenAt(h types.Hash) uint64 {
	if s, ok := v.seen[h]; ok {
		return s
	}
	return ^uint64(0)
}

// observe registers a block's header and arrival order.
func (v *fakeView) observe(blk *block.Block) {
	h := blk.Hash()
	v.headers[h] = blk.Header
	v.seen[h] = v.order
	v.order++
}

// setTip registers the block and makes it the canonical head.
func (v *fakeView) setTip(blk *block.Block) {
	v.observe(blk)
	v.tip = blk.Hash()
	v.height = blk.Header.Height
}

// types32 returns a hash filled with the given byte.
func types32(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// emptyHeader builds an empty-block header at the given position.
func emptyHeader(height uint64, prev types.Hash) *block.Header {
	return &block.Header{
		Version:    block.CurrentVersion,
		Height:     height,
		PrevHash:   prev,
		MerkleRoot: merkle.EmptyRoot,
		Timestamp:  1_700_000_000 + height,
	}
}

// signedBlock builds an empty block signed by key. mutate runs before
// signing so consensus metadata is covered by the signature.
func signedBlock(t *testing.T, key *crypto.PrivateKey, height uint64, prev types.Hash, mutate func(*block.Header)) *block.Block {
	t.Helper()
	h := emptyHeader(height, prev)
	if mutate != nil {
		mutate(h)
	}
	if err := h.SignWith(key); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	return block.New(h, nil)
}

func pubKeys(keys ...*crypto.PrivateKey) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = k.PublicKey()
	}
	return out
}
