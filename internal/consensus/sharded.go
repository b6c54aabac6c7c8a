package consensus

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Sharded errors.
var (
	ErrUnknownShard    = errors.New("shard id outside configured range")
	ErrShardViewNeeded = errors.New("sharded engine requires a shard-scoped view")
	ErrCrossRefNotFinal = errors.New("cross-shard reference targets a non-finalized block")
)

// FinalityChecker answers whether a block is finalized in a given shard.
// The shard set installs its own implementation once shards exist.
type FinalityChecker interface {
	IsFinalized(shard uint32, blockHash types.Hash) bool
}

// Sharded partitions agreement across shardCount independent sub-engines,
// dispatching by the header's shard id. Cross-shard references are the one
// coupling point: a block may reference another shard's block only once that
// block is finalized there. The global head is the tuple of shard heads,
// owned by the chain layer.
type Sharded struct {
	shards   []Engine
	finality FinalityChecker
}

// NewSharded creates a sharded engine with one sub-engine per shard.
func NewSharded(shards []Engine) (*Sharded, error) {
	if len(shards) == 0 {
		return nil, ErrNoSubEngines
	}
	return &Sharded{shards: shards}, nil
}

// Mechanism returns the variant tag.
func (s *Sharded) Mechanism() config.Mechanism { return config.MechanismSharded }

// ShardCount returns the number of shards.
func (s *Sharded) ShardCount() uint32 { return uint32(len(s.shards)) }

// ShardEngine returns the sub-engine for a shard.
func (s *Sharded) ShardEngine(shard uint32) (Engine, error) {
	if int(shard) >= len(s.shards) {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownShard, shard, len(s.shards))
	}
	return s.shards[shard], nil
}

// SetFinalityChecker installs the cross-shard finality oracle.
func (s *Sharded) SetFinalityChecker(fc FinalityChecker) {
	s.finality = fc
}

// SelectProposer delegates to the view's shard's sub-engine. The view must
// be shard-scoped.
func (s *Sharded) SelectProposer(view View, round uint64) ([]byte, error) {
	sv, ok := view.(ShardView)
	if !ok {
		return nil, ErrShardViewNeeded
	}
	sub, err := s.ShardEngine(sv.ShardID())
	if err != nil {
		return nil, err
	}
	return sub.SelectProposer(view, round)
}

// ValidateProposal dispatches to the header's shard's sub-engine, then checks
// that every cross-shard reference points at a block already finalized in the
// referenced shard.
func (s *Sharded) ValidateProposal(blk *block.Block, view View) error {
	h := blk.Header

	sub, err := s.ShardEngine(h.ShardID)
	if err != nil {
		return err
	}
	if err := sub.ValidateProposal(blk, view); err != nil {
		return fmt.Errorf("shard %d: %w", h.ShardID, err)
	}

	for _, ref := range h.CrossRefs {
		if int(ref.Shard) >= len(s.shards) {
			return fmt.Errorf("%w: cross-ref to shard %d", ErrUnknownShard, ref.Shard)
		}
		if s.finality == nil || !s.finality.IsFinalized(ref.Shard, ref.BlockHash) {
			return fmt.Errorf("%w: shard %d block %s", ErrCrossRefNotFinal, ref.Shard, ref.BlockHash)
		}
	}
	return nil
}

// ResolveFork resolves within a single shard: all tips must belong to the
// same shard, and that shard's sub-engine chooses.
func (s *Sharded) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	if len(tips) == 0 {
		return nil, ErrNoTips
	}
	shard := tips[0].Header.ShardID
	for _, tip := range tips[1:] {
		if tip.Header.ShardID != shard {
			return nil, fmt.Errorf("%w: tips span shards %d and %d", ErrUnknownShard, shard, tip.Header.ShardID)
		}
	}
	sub, err := s.ShardEngine(shard)
	if err != nil {
		return nil, err
	}
	return sub.ResolveFork(tips, view)
}

// OnEpochBoundary notifies every shard's sub-engine.
func (s *Sharded) OnEpochBoundary(view View) {
	for _, sub := range s.shards {
		sub.OnEpochBoundary(view)
	}
}

// BlockApplied dispatches the canonical apply to the block's shard engine.
func (s *Sharded) BlockApplied(blk *block.Block) {
	sub, err := s.ShardEngine(blk.Header.ShardID)
	if err != nil {
		return
	}
	if lc, ok := sub.(Lifecycle); ok {
		lc.BlockApplied(blk)
	}
}

// BlockReverted dispatches the reorg revert to the block's shard engine.
func (s *Sharded) BlockReverted(blk *block.Block) {
	sub, err := s.ShardEngine(blk.Header.ShardID)
	if err != nil {
		return
	}
	if lc, ok := sub.(Lifecycle); ok {
		lc.BlockReverted(blk)
	}
}
