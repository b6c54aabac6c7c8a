package chain

import (
	"fmt"

	"github.com/zzzizo/cig-chain/internal/ledger"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// replayView presents the reorg-in-progress as the chain tip, so the
// engine validates each replayed block against the branch state it will
// actually extend.
type replayView struct {
	c      *Chain
	height uint64
	tip    types.Hash
}

func (v *replayView) Height() uint64      { return v.height }
func (v *replayView) TipHash() types.Hash { return v.tip }
func (v *replayView) ShardID() uint32     { return v.c.shardID }

func (v *replayView) HeaderByHash(h types.Hash) (*block.Header, bool) {
	if blk, ok := v.c.arena.get(h); ok {
		return blk.Header, true
	}
	blk, err := v.c.store.GetBlock(h)
	if err != nil {
		return nil, false
	}
	return blk.Header, true
}

func (v *replayView) SeenAt(h types.Hash) uint64 {
	return v.c.arena.seenAt(h)
}

// reorg switches the canonical chain to the branch ending at winner:
// canonical blocks above the fork point are reverted via their undo data,
// then the winning branch is replayed under full validation. The canonical
// ledger and indexes are only touched after the whole replay succeeded, so
// a bad branch leaves the chain exactly as it was.
func (c *Chain) reorg(winner *block.Block) (*procResult, error) {
	branch, forkHeight, err := c.collectBranch(winner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForkUnresolved, err)
	}
	if forkHeight < c.state.FinalHeight {
		return nil, fmt.Errorf("%w: fork point %d below finalized %d",
			ErrFinalityViolation, forkHeight, c.state.FinalHeight)
	}

	// Rewind a ledger copy to the fork point.
	work := c.ledger.Clone()
	var revertedBlocks []*block.Block
	for h := c.state.Height; h > forkHeight; h-- {
		rb, err := c.store.GetBlockByHeight(h)
		if err != nil {
			return nil, fmt.Errorf("reorg: canonical block at %d: %w", h, err)
		}
		undo, err := c.store.GetUndo(rb.Hash())
		if err != nil {
			return nil, fmt.Errorf("reorg: undo for height %d: %w", h, err)
		}
		if err := restoreUndo(work, undo); err != nil {
			return nil, fmt.Errorf("reorg: revert height %d: %w", h, err)
		}
		revertedBlocks = append(revertedBlocks, rb)
	}

	anc, err := c.store.GetBlockByHeight(forkHeight)
	if err != nil {
		return nil, fmt.Errorf("reorg: fork ancestor at %d: %w", forkHeight, err)
	}

	// The engine must validate the branch against the rewound chain, so it
	// sees the reverts now. They are reinstated if the replay fails and the
	// canonical chain stays as it was.
	c.engineReverted(revertedBlocks...)
	restoreEngine := func() {
		for i := len(revertedBlocks) - 1; i >= 0; i-- {
			c.engineApplied(revertedBlocks[i])
		}
	}

	// Replay the winning branch under the same validation a tip extension
	// gets. Fork blocks were only structurally checked at admission.
	rv := &replayView{c: c, height: forkHeight, tip: anc.Hash()}
	tipTime := anc.Header.Timestamp
	undos := make([]*UndoData, 0, len(branch))
	for _, nb := range branch {
		if err := c.checkParentLink(nb, rv.height, tipTime); err != nil {
			c.arena.removeSubtree(nb.Hash())
			restoreEngine()
			return nil, err
		}
		if err := ledger.ValidateBlockTxs(nb.Transactions, work); err != nil {
			c.arena.removeSubtree(nb.Hash())
			restoreEngine()
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
		}
		if err := c.engine.ValidateProposal(nb, rv); err != nil {
			if len(nb.Header.Proposer) > 0 {
				c.tracker.RecordInvalid(nb.Header.Proposer)
			}
			c.arena.removeSubtree(nb.Hash())
			restoreEngine()
			return nil, fmt.Errorf("%w: %w", ErrConsensusRuleViolation, err)
		}
		next, undo, err := c.executeBlock(work, nb)
		if err != nil {
			c.arena.removeSubtree(nb.Hash())
			restoreEngine()
			return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
		}
		work = next
		undos = append(undos, undo)
		rv.height = nb.Header.Height
		rv.tip = nb.Hash()
		tipTime = nb.Header.Timestamp
	}

	// Commit. Index maintenance first, then the tip pointer.
	oldHeight := c.state.Height
	for _, rb := range revertedBlocks {
		for _, t := range rb.Transactions {
			if err := c.store.DeleteTxIndex(t.Hash()); err != nil {
				c.logger.Debug().Err(err).Msg("reorg: tx index cleanup failed")
			}
		}
		if err := c.store.DeleteUndo(rb.Hash()); err != nil {
			c.logger.Debug().Err(err).Msg("reorg: undo cleanup failed")
		}
	}
	for h := winner.Header.Height + 1; h <= oldHeight; h++ {
		if err := c.store.DeleteHeightIndex(h); err != nil {
			c.logger.Debug().Err(err).Msg("reorg: height index cleanup failed")
		}
	}
	for i, nb := range branch {
		if err := c.store.PutBlock(nb); err != nil {
			restoreEngine()
			return nil, fmt.Errorf("reorg: index block %d: %w", nb.Header.Height, err)
		}
		if err := c.store.PutUndo(nb.Hash(), undos[i]); err != nil {
			restoreEngine()
			return nil, fmt.Errorf("reorg: undo for %d: %w", nb.Header.Height, err)
		}
		if len(nb.Header.Proposer) > 0 {
			c.tracker.RecordAccepted(nb.Header.Proposer)
		}
	}
	if err := c.store.SetTip(winner.Hash(), winner.Header.Height); err != nil {
		restoreEngine()
		return nil, fmt.Errorf("reorg: set tip: %w", err)
	}
	c.engineApplied(branch...)

	c.ledger = work
	c.state.Height = winner.Header.Height
	c.state.TipHash = winner.Hash()
	c.state.TipTimestamp = winner.Header.Timestamp

	res := &procResult{
		head:     winner,
		reverted: revertedTxsNotIn(revertedBlocks, branch),
	}
	c.advanceFinality(res)

	c.logger.Warn().
		Uint64("fork_height", forkHeight).
		Int("reverted", len(revertedBlocks)).
		Int("applied", len(branch)).
		Str("new_tip", winner.Hash().String()).
		Msg("chain reorganized")

	// Epoch edges crossed by the new branch rotate the validator set just
	// as a tip extension through them would have.
	for _, nb := range branch {
		c.maybeEpochBoundary(nb.Header.Height)
	}
	return res, nil
}

// collectBranch walks winner's ancestry back to the first canonical block
// and returns the non-canonical segment oldest-first, plus the fork-point
// height.
func (c *Chain) collectBranch(winner *block.Block) ([]*block.Block, uint64, error) {
	var reversed []*block.Block
	cur := winner
	for {
		reversed = append(reversed, cur)
		if cur.Header.Height == 0 {
			return nil, 0, fmt.Errorf("branch reaches a non-canonical genesis")
		}
		ph := cur.Header.PrevHash
		if canonical, ok := c.store.CanonicalHash(cur.Header.Height - 1); ok && canonical == ph {
			break
		}
		parent, ok := c.arena.get(ph)
		if !ok {
			stored, err := c.store.GetBlock(ph)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: %s", ErrPrevNotFound, ph)
			}
			parent = stored
		}
		cur = parent
	}

	branch := make([]*block.Block, len(reversed))
	for i, b := range reversed {
		branch[len(reversed)-1-i] = b
	}
	return branch, branch[0].Header.Height - 1, nil
}

// revertedTxsNotIn returns the transactions of the reverted blocks that the
// new branch did not re-include, oldest block first.
func revertedTxsNotIn(reverted []*block.Block, branch []*block.Block) []*tx.Transaction {
	inNew := make(map[types.Hash]bool)
	for _, nb := range branch {
		for _, t := range nb.Transactions {
			inNew[t.Hash()] = true
		}
	}

	var out []*tx.Transaction
	for i := len(reverted) - 1; i >= 0; i-- {
		for _, t := range reverted[i].Transactions {
			if !inNew[t.Hash()] {
				out = append(out, t)
			}
		}
	}
	return out
}
