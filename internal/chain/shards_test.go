package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/internal/storage"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/merkle"
	"github.com/zzzizo/cig-chain/pkg/types"
)

func shardedConfig() *config.Config {
	cfg := testConfig(config.MechanismSharded)
	cfg.Consensus.ShardCount = 2
	cfg.Consensus.ShardStrategy = config.MechanismPoW
	return cfg
}

func newTestShardSet(t *testing.T) *ShardSet {
	t.Helper()
	set, err := NewShardSet(shardedConfig(), testGenesis(nil), func(uint32) (storage.DB, error) {
		return storage.NewMemory(), nil
	})
	if err != nil {
		t.Fatalf("new shard set: %v", err)
	}
	return set
}

// shardBlock mines a difficulty-1 block for the given shard.
func shardBlock(t *testing.T, parentHash types.Hash, height, timestamp uint64, shard uint32, refs []block.CrossRef) *block.Block {
	t.Helper()
	header := &block.Header{
		Version:    block.CurrentVersion,
		Height:     height,
		PrevHash:   parentHash,
		MerkleRoot: merkle.EmptyRoot,
		Timestamp:  timestamp,
		ShardID:    shard,
		CrossRefs:  refs,
	}
	blk := block.New(header, nil)
	pow, err := consensus.NewPoW(1)
	if err != nil {
		t.Fatalf("new pow: %v", err)
	}
	if err := pow.Seal(context.Background(), blk); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return blk
}

func TestShardSetBootstrap(t *testing.T) {
	set := newTestShardSet(t)

	if set.ShardCount() != 2 {
		t.Fatalf("shard count = %d, want 2", set.ShardCount())
	}
	heads := set.GlobalHead()
	if len(heads) != 2 {
		t.Fatalf("global head = %d entries, want 2", len(heads))
	}
	for i, st := range heads {
		if st.Status != StatusGenesis || st.Height != 0 {
			t.Fatalf("shard %d state = %s/%d, want genesis/0", i, st.Status, st.Height)
		}
	}

	// Shard id is part of the header, so genesis hashes differ per shard.
	if heads[0].TipHash == heads[1].TipHash {
		t.Fatal("shard genesis hashes must differ")
	}
}

func TestShardSetRoutesByShardID(t *testing.T) {
	set := newTestShardSet(t)
	now := uint64(time.Now().Unix())

	s1, err := set.Shard(1)
	if err != nil {
		t.Fatalf("shard 1: %v", err)
	}
	blk := shardBlock(t, s1.TipHash(), 1, now, 1, nil)
	if err := set.SubmitCandidate(blk); err != nil {
		t.Fatalf("submit: %v", err)
	}

	heads := set.GlobalHead()
	if heads[1].Height != 1 || heads[0].Height != 0 {
		t.Fatalf("heights = %d/%d, want shard 1 at 1 and shard 0 at 0",
			heads[0].Height, heads[1].Height)
	}

	// A shard id outside the configured range never routes.
	stray := shardBlock(t, s1.TipHash(), 1, now, 9, nil)
	if err := set.SubmitCandidate(stray); !errors.Is(err, consensus.ErrUnknownShard) {
		t.Fatalf("got %v, want ErrUnknownShard", err)
	}

	// A block claiming shard 0 but extending shard 1's tip has no parent
	// in shard 0's chain.
	misrouted := shardBlock(t, s1.TipHash(), 1, now, 0, nil)
	if err := set.SubmitCandidate(misrouted); !errors.Is(err, ErrPrevNotFound) {
		t.Fatalf("got %v, want ErrPrevNotFound", err)
	}
}

func TestCrossRefRequiresFinality(t *testing.T) {
	set := newTestShardSet(t)
	now := uint64(time.Now().Unix())

	s0, _ := set.Shard(0)
	s1, _ := set.Shard(1)

	// Shard 1 applies one block; it is canonical but not yet final.
	target := shardBlock(t, s1.TipHash(), 1, now, 1, nil)
	if err := set.SubmitCandidate(target); err != nil {
		t.Fatalf("shard 1 block: %v", err)
	}

	ref := []block.CrossRef{{Shard: 1, BlockHash: target.Hash()}}
	early := shardBlock(t, s0.TipHash(), 1, now, 0, ref)
	if err := set.SubmitCandidate(early); !errors.Is(err, ErrConsensusRuleViolation) {
		t.Fatalf("got %v, want ErrConsensusRuleViolation for non-final cross-ref", err)
	}

	// Bury the target below the finality depth, then the reference holds.
	parent := target.Hash()
	for h := uint64(2); h <= FinalityDepth+1; h++ {
		blk := shardBlock(t, parent, h, now+h, 1, nil)
		if err := set.SubmitCandidate(blk); err != nil {
			t.Fatalf("shard 1 height %d: %v", h, err)
		}
		parent = blk.Hash()
	}
	if !set.IsFinalized(1, target.Hash()) {
		t.Fatal("target must be finalized after burial")
	}

	late := shardBlock(t, s0.TipHash(), 1, now+20, 0, ref)
	if err := set.SubmitCandidate(late); err != nil {
		t.Fatalf("finalized cross-ref rejected: %v", err)
	}
	if s0.Height() != 1 {
		t.Fatalf("shard 0 height = %d, want 1", s0.Height())
	}
}
