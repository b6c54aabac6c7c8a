package chain

import (
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/internal/storage"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// ShardSet runs one chain per shard under a single sharded consensus
// engine. Every shard chain shares the composite engine, so cross-shard
// references are checked on every proposal; the set itself answers the
// engine's finality queries.
type ShardSet struct {
	cfg    *config.Config
	engine *consensus.Sharded
	chains []*Chain
}

// NewShardSet builds the per-shard chains. openDB supplies an isolated
// database per shard; each shard also gets its own genesis block (the
// shard id is part of the header, so genesis hashes differ per shard).
func NewShardSet(cfg *config.Config, gen *config.Genesis, openDB func(shard uint32) (storage.DB, error)) (*ShardSet, error) {
	eng, err := consensus.New(cfg)
	if err != nil {
		return nil, err
	}
	sharded, ok := eng.(*consensus.Sharded)
	if !ok {
		return nil, fmt.Errorf("mechanism %q is not sharded", cfg.Mechanism)
	}

	s := &ShardSet{
		cfg:    cfg,
		engine: sharded,
		chains: make([]*Chain, sharded.ShardCount()),
	}
	// The engine consults the set for cross-shard finality before any
	// block flows, so wire the checker before opening the chains.
	sharded.SetFinalityChecker(s)

	for id := uint32(0); id < sharded.ShardCount(); id++ {
		db, err := openDB(id)
		if err != nil {
			return nil, fmt.Errorf("shard %d db: %w", id, err)
		}
		ch, err := New(cfg, gen, db, WithShard(id), WithEngine(sharded))
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", id, err)
		}
		s.chains[id] = ch
	}
	return s, nil
}

// ShardCount returns the number of shards.
func (s *ShardSet) ShardCount() int { return len(s.chains) }

// Shard returns the chain serving the given shard.
func (s *ShardSet) Shard(id uint32) (*Chain, error) {
	if int(id) >= len(s.chains) {
		return nil, fmt.Errorf("%w: %d", consensus.ErrUnknownShard, id)
	}
	return s.chains[id], nil
}

// SubmitCandidate routes a candidate to its shard's chain.
func (s *ShardSet) SubmitCandidate(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("%w: nil block", ErrMalformedBlock)
	}
	ch, err := s.Shard(blk.Header.ShardID)
	if err != nil {
		return err
	}
	return ch.SubmitCandidate(blk)
}

// IsFinalized reports whether a block is canonical and finalized in its
// shard. Cross-shard references must point at blocks that pass this check.
func (s *ShardSet) IsFinalized(shard uint32, blockHash types.Hash) bool {
	if int(shard) >= len(s.chains) {
		return false
	}
	return s.chains[shard].IsFinalized(blockHash)
}

// GlobalHead returns the tip state of every shard, indexed by shard id.
// There is no single global tip; the global head is this tuple.
func (s *ShardSet) GlobalHead() []State {
	heads := make([]State, len(s.chains))
	for i, ch := range s.chains {
		heads[i] = ch.State()
	}
	return heads
}
