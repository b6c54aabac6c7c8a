// Package builder assembles candidate blocks for submission to the chain.
// It fills the variant-specific header metadata the active engine expects
// and leaves acceptance entirely to the chain: a built block is a
// candidate, nothing more.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/merkle"
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// ErrKeyRequired is returned when a leader-based variant has no proposer key.
var ErrKeyRequired = errors.New("proposer key required for this mechanism")

// ChainState provides read-only access to the current chain tip.
type ChainState interface {
	Height() uint64
	TipHash() types.Hash
	TipTimestamp() uint64
	ShardID() uint32
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
}

// Builder produces candidate blocks.
type Builder struct {
	chain  ChainState
	engine consensus.Engine
	pool   MempoolSelector
	key    *crypto.PrivateKey

	burnProof types.Hash
	crossRefs []block.CrossRef
}

// New creates a block builder. The key may be nil for pure PoW, where the
// work itself is the proposer credential.
func New(chain ChainState, engine consensus.Engine, pool MempoolSelector, key *crypto.PrivateKey) *Builder {
	return &Builder{
		chain:  chain,
		engine: engine,
		pool:   pool,
		key:    key,
	}
}

// SetBurnProof records the burn receipt to claim in the next built block.
func (b *Builder) SetBurnProof(h types.Hash) { b.burnProof = h }

// SetCrossRefs records cross-shard references for the next built block.
func (b *Builder) SetCrossRefs(refs []block.CrossRef) { b.crossRefs = refs }

// Build assembles, signs, and (for PoW) seals a candidate extending the
// current tip. The block is not applied; submit it to the chain.
func (b *Builder) Build(ctx context.Context, round uint64) (*block.Block, error) {
	return b.buildAt(ctx, round, uint64(time.Now().Unix()))
}

func (b *Builder) buildAt(ctx context.Context, round, timestamp uint64) (*block.Block, error) {
	// Timestamp must not precede the parent's.
	if parentTS := b.chain.TipTimestamp(); timestamp < parentTS {
		timestamp = parentTS
	}

	var selected []*tx.Transaction
	if b.pool != nil {
		selected = b.pool.SelectForBlock(config.MaxBlockTxs)
	}
	hashes := make([]types.Hash, len(selected))
	for i, t := range selected {
		hashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:    block.CurrentVersion,
		Height:     b.chain.Height() + 1,
		PrevHash:   b.chain.TipHash(),
		MerkleRoot: merkle.Root(hashes),
		Timestamp:  timestamp,
		Round:      round,
		BurnProof:  b.burnProof,
		ShardID:    b.chain.ShardID(),
		CrossRefs:  b.crossRefs,
	}
	// A sharded composite builds with the engine of this chain's shard.
	eng := b.engine
	if sharded, ok := eng.(*consensus.Sharded); ok {
		sub, err := sharded.ShardEngine(header.ShardID)
		if err != nil {
			return nil, err
		}
		eng = sub
	}
	applyEngineMeta(eng, header)

	blk := block.New(header, selected)

	pow := findPoW(eng)
	if pow == nil && b.key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyRequired, b.engine.Mechanism())
	}

	// The proposer key is part of the hashed bytes, so it must be fixed
	// before sealing; the signature covers the sealed nonce.
	if b.key != nil {
		header.Proposer = b.key.PublicKey()
	}
	if pow != nil {
		if err := pow.Seal(ctx, blk); err != nil {
			return nil, fmt.Errorf("seal: %w", err)
		}
	}
	if b.key != nil {
		if err := header.SignWith(b.key); err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
	}
	return blk, nil
}

// applyEngineMeta fills the header fields a variant validates against its
// own state. Composites recurse into their sub-engines.
func applyEngineMeta(eng consensus.Engine, h *block.Header) {
	switch e := eng.(type) {
	case *consensus.PoS:
		h.StakeRef = e.Snapshot()
	case *consensus.Hybrid:
		for _, sub := range e.SubEngines() {
			applyEngineMeta(sub, h)
		}
	}
}

// findPoW locates a work-sealing engine, looking through composites.
func findPoW(eng consensus.Engine) *consensus.PoW {
	switch e := eng.(type) {
	case *consensus.PoW:
		return e
	case *consensus.Hybrid:
		for _, sub := range e.SubEngines() {
			if p := findPoW(sub); p != nil {
				return p
			}
		}
	}
	return nil
}
