package chain

import (
	"fmt"
	"time"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/ledger"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/tx"
)

// FinalityDepth is how many blocks below the tip are treated as
// irreversible for variants without protocol finality. Competing branches
// may never cross this line.
const FinalityDepth = 6

// procResult carries the side effects of a processed candidate out of the
// critical section so handlers run without the chain lock held.
type procResult struct {
	head      *block.Block
	state     State
	finalized []*block.Block
	reverted  []*tx.Transaction
}

// SubmitCandidate runs a candidate block through admission: structural
// checks, parent linkage, transaction validation, the consensus engine's
// proposal rules, and atomic ledger application. A candidate that forks the
// chain is parked and fork choice decides the canonical branch.
//
// ErrForkUnresolved is informational: the block was retained as a fork
// candidate but the canonical tip did not change.
func (c *Chain) SubmitCandidate(blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("%w: nil block", ErrMalformedBlock)
	}

	c.mu.Lock()
	res, err := c.process(blk)
	headH, finalH, revertH := c.onHeadChange, c.onFinalized, c.onRevertedTxs
	c.mu.Unlock()

	if res != nil {
		if res.head != nil && headH != nil {
			headH(res.head, res.state)
		}
		if finalH != nil {
			for _, fb := range res.finalized {
				finalH(fb)
			}
		}
		if len(res.reverted) > 0 && revertH != nil {
			revertH(res.reverted)
		}
	}
	return err
}

func (c *Chain) process(blk *block.Block) (*procResult, error) {
	hash := blk.Hash()

	if c.arena.has(hash) {
		return nil, ErrBlockKnown
	}
	if known, err := c.store.HasBlock(hash); err == nil && known {
		return nil, ErrBlockKnown
	}

	if err := blk.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlock, err)
	}
	if blk.Header.Height == 0 {
		return nil, fmt.Errorf("%w: conflicting genesis", ErrMalformedBlock)
	}
	if blk.Header.ShardID != c.shardID {
		return nil, fmt.Errorf("%w: block for shard %d submitted to shard %d",
			ErrMalformedBlock, blk.Header.ShardID, c.shardID)
	}

	now := uint64(time.Now().Unix())
	if blk.Header.Timestamp > now+config.MaxTimestampDrift {
		return nil, fmt.Errorf("%w: %w: %d > %d",
			ErrMalformedBlock, ErrTimestampTooFuture, blk.Header.Timestamp, now+config.MaxTimestampDrift)
	}

	if blk.Header.PrevHash == c.state.TipHash {
		if err := c.checkParentLink(blk, c.state.Height, c.state.TipTimestamp); err != nil {
			return nil, err
		}
		return c.extend(blk)
	}

	parent, ok := c.lookupHeader(blk)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPrevNotFound, blk.Header.PrevHash)
	}
	if err := c.checkParentLink(blk, parent.Height, parent.Timestamp); err != nil {
		return nil, err
	}
	if blk.Header.Height <= c.state.FinalHeight {
		return nil, fmt.Errorf("%w: height %d at or below finalized %d",
			ErrFinalityViolation, blk.Header.Height, c.state.FinalHeight)
	}
	return c.fork(blk)
}

func (c *Chain) checkParentLink(blk *block.Block, parentHeight, parentTimestamp uint64) error {
	if blk.Header.Height != parentHeight+1 {
		return fmt.Errorf("%w: %w: got %d, parent at %d",
			ErrMalformedBlock, ErrBadHeight, blk.Header.Height, parentHeight)
	}
	if blk.Header.Timestamp < parentTimestamp {
		return fmt.Errorf("%w: %w: %d < %d",
			ErrMalformedBlock, ErrTimestampBeforeParent, blk.Header.Timestamp, parentTimestamp)
	}
	return nil
}

func (c *Chain) lookupHeader(blk *block.Block) (*block.Header, bool) {
	if parent, ok := c.arena.get(blk.Header.PrevHash); ok {
		return parent.Header, true
	}
	parent, err := c.store.GetBlock(blk.Header.PrevHash)
	if err != nil {
		return nil, false
	}
	return parent.Header, true
}

// extend applies a candidate on top of the canonical tip.
func (c *Chain) extend(blk *block.Block) (*procResult, error) {
	view := c.view()

	if err := ledger.ValidateBlockTxs(blk.Transactions, c.ledger); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	if err := c.engine.ValidateProposal(blk, view); err != nil {
		if len(blk.Header.Proposer) > 0 {
			c.tracker.RecordInvalid(blk.Header.Proposer)
		}
		return nil, fmt.Errorf("%w: %w", ErrConsensusRuleViolation, err)
	}

	work, undo, err := c.executeBlock(c.ledger, blk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	hash := blk.Hash()
	if err := c.store.PutBlock(blk); err != nil {
		return nil, err
	}
	if err := c.store.PutUndo(hash, undo); err != nil {
		return nil, err
	}
	if err := c.store.SetTip(hash, blk.Header.Height); err != nil {
		return nil, err
	}

	c.ledger = work
	c.arena.observe(blk)
	c.state.Height = blk.Header.Height
	c.state.TipHash = hash
	c.state.TipTimestamp = blk.Header.Timestamp

	if len(blk.Header.Proposer) > 0 {
		c.tracker.RecordAccepted(blk.Header.Proposer)
	}
	c.engineApplied(blk)

	res := &procResult{head: blk}
	c.advanceFinality(res)
	c.state.Status = c.statusLocked()
	res.state = c.state

	c.logger.Info().
		Uint64("height", blk.Header.Height).
		Str("hash", hash.String()).
		Int("txs", len(blk.Transactions)).
		Str("status", c.state.Status.String()).
		Msg("block applied")

	c.maybeEpochBoundary(blk.Header.Height)
	return res, nil
}

// fork parks a candidate on a competing branch and re-runs fork choice.
func (c *Chain) fork(blk *block.Block) (*procResult, error) {
	c.arena.observe(blk)
	if err := c.store.StoreBlock(blk); err != nil {
		return nil, err
	}

	c.logger.Warn().
		Uint64("height", blk.Header.Height).
		Str("hash", blk.Hash().String()).
		Str("prev", blk.Header.PrevHash.String()).
		Msg("fork block parked")

	tips := c.arena.tips()
	winner, err := c.engine.ResolveFork(tips, c.view())
	if err != nil {
		c.state.Status = StatusForked
		return nil, fmt.Errorf("%w: %w", ErrForkUnresolved, err)
	}

	if winner.Hash() == c.state.TipHash {
		c.state.Status = StatusForked
		return nil, fmt.Errorf("%w: canonical tip retained at height %d",
			ErrForkUnresolved, c.state.Height)
	}

	res, err := c.reorg(winner)
	if err != nil {
		return nil, err
	}
	c.state.Status = c.statusLocked()
	res.state = c.state
	return res, nil
}

// statusLocked derives the post-application status from finality and
// outstanding fork tips.
func (c *Chain) statusLocked() Status {
	if c.state.Height == 0 {
		return StatusGenesis
	}
	if c.instantFinality() {
		return StatusFinalized
	}
	if len(c.arena.tips()) > 1 {
		return StatusForked
	}
	return StatusExtending
}

// instantFinality reports whether every applied block is immediately
// irreversible under the active mechanism.
func (c *Chain) instantFinality() bool {
	return c.engine.Mechanism() == config.MechanismPBFT
}

// advanceFinality moves the finalized height forward, emits finality
// events, drops undo data that can never be used, and prunes fork
// candidates that lost to a finalized block.
func (c *Chain) advanceFinality(res *procResult) {
	var target uint64
	if c.instantFinality() {
		target = c.state.Height
	} else if c.state.Height > FinalityDepth {
		target = c.state.Height - FinalityDepth
	} else {
		return
	}
	if target <= c.state.FinalHeight {
		return
	}

	for h := c.state.FinalHeight + 1; h <= target; h++ {
		fb, err := c.store.GetBlockByHeight(h)
		if err != nil {
			c.logger.Error().Uint64("height", h).Err(err).Msg("finalized block missing")
			continue
		}
		res.finalized = append(res.finalized, fb)
		if err := c.store.DeleteUndo(fb.Hash()); err != nil {
			c.logger.Debug().Uint64("height", h).Err(err).Msg("undo cleanup failed")
		}
	}

	c.state.FinalHeight = target
	if err := c.store.SetFinalHeight(target); err != nil {
		c.logger.Error().Err(err).Msg("persist final height failed")
	}

	if pruned := c.arena.pruneBelow(target); len(pruned) > 0 {
		c.logger.Info().
			Int("pruned", len(pruned)).
			Uint64("final_height", target).
			Msg("fork candidates pruned by finality")
	}
}

// engineApplied reports blocks that became canonical to a lifecycle-aware
// engine, in chain order.
func (c *Chain) engineApplied(blks ...*block.Block) {
	if c.lifecycle == nil {
		return
	}
	for _, b := range blks {
		c.lifecycle.BlockApplied(b)
	}
}

// engineReverted reports blocks a reorg removed from the canonical chain.
func (c *Chain) engineReverted(blks ...*block.Block) {
	if c.lifecycle == nil {
		return
	}
	for _, b := range blks {
		c.lifecycle.BlockReverted(b)
	}
}

// maybeEpochBoundary fires validator-set rotation at epoch edges.
func (c *Chain) maybeEpochBoundary(height uint64) {
	epoch := c.cfg.Consensus.EpochLength
	if epoch == 0 || height%epoch != 0 {
		return
	}
	c.engine.OnEpochBoundary(c.view())
	c.logger.Info().
		Uint64("height", height).
		Uint64("epoch", height/epoch).
		Msg("epoch boundary")
}
