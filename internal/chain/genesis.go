package chain

import (
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/ledger"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/merkle"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// GenesisBlock builds the deterministic genesis block for a shard. It
// carries no transactions and no proposer; initial balances come from the
// genesis allocations, not from block execution.
func GenesisBlock(gen *config.Genesis, shardID uint32) *block.Block {
	h := &block.Header{
		Version:    block.CurrentVersion,
		Height:     0,
		MerkleRoot: merkle.EmptyRoot,
		Timestamp:  gen.Timestamp,
		ShardID:    shardID,
	}
	return block.New(h, nil)
}

// open restores the chain from storage, bootstrapping genesis on first run.
func (c *Chain) open() error {
	tipHash, tipHeight, err := c.store.GetTip()
	if err != nil {
		return fmt.Errorf("read tip: %w", err)
	}
	if tipHash.IsZero() {
		return c.bootstrap()
	}
	return c.replay(tipHash, tipHeight)
}

func (c *Chain) bootstrap() error {
	if err := c.genesis.Validate(); err != nil {
		return fmt.Errorf("genesis config: %w", err)
	}
	alloc, err := c.genesis.Allocations()
	if err != nil {
		return fmt.Errorf("genesis alloc: %w", err)
	}

	blk := GenesisBlock(c.genesis, c.shardID)
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	hash := blk.Hash()

	if err := c.store.PutBlock(blk); err != nil {
		return err
	}
	if err := c.store.SetTip(hash, 0); err != nil {
		return err
	}

	c.ledger = ledger.NewViewWithAlloc(alloc)
	c.arena.observe(blk)
	c.state = State{
		Status:       StatusGenesis,
		Height:       0,
		TipHash:      hash,
		TipTimestamp: blk.Header.Timestamp,
		FinalHeight:  0,
	}

	c.logger.Info().
		Str("hash", hash.String()).
		Str("chain", c.genesis.ChainName).
		Int("alloc", len(alloc)).
		Msg("genesis block created")
	return nil
}

// replay rebuilds the in-memory ledger by re-executing every canonical
// block. Blocks read from our own store are trusted: signatures and
// consensus rules are not re-checked.
func (c *Chain) replay(tipHash types.Hash, tipHeight uint64) error {
	if err := c.genesis.Validate(); err != nil {
		return fmt.Errorf("genesis config: %w", err)
	}
	alloc, err := c.genesis.Allocations()
	if err != nil {
		return fmt.Errorf("genesis alloc: %w", err)
	}
	c.ledger = ledger.NewViewWithAlloc(alloc)

	var tipTimestamp uint64
	for height := uint64(0); height <= tipHeight; height++ {
		blk, err := c.store.GetBlockByHeight(height)
		if err != nil {
			return fmt.Errorf("replay height %d: %w", height, err)
		}
		if height > 0 {
			if err := c.applyToLedger(c.ledger, blk); err != nil {
				return fmt.Errorf("replay height %d: %w", height, err)
			}
		}
		c.arena.observe(blk)
		tipTimestamp = blk.Header.Timestamp
	}

	status := StatusExtending
	if tipHeight == 0 {
		status = StatusGenesis
	}
	final := c.store.GetFinalHeight()
	if final > 0 && final == tipHeight {
		status = StatusFinalized
	}
	c.state = State{
		Status:       status,
		Height:       tipHeight,
		TipHash:      tipHash,
		TipTimestamp: tipTimestamp,
		FinalHeight:  final,
	}

	c.logger.Info().
		Uint64("height", tipHeight).
		Str("tip", tipHash.String()).
		Uint64("final", final).
		Msg("chain state restored")
	return nil
}

// applyToLedger folds a block's transfers and contract effects into the
// given view, in inclusion order.
func (c *Chain) applyToLedger(v *ledger.View, blk *block.Block) error {
	for _, t := range blk.Transactions {
		if err := v.ApplyTx(t.From, t.To, t.Amount); err != nil {
			return fmt.Errorf("tx %s: %w", t.Hash(), err)
		}
		if t.HasPayload() && c.contracts != nil {
			effect, err := c.contracts.Execute(t.Payload, v)
			if err != nil {
				return fmt.Errorf("%w: tx %s: %v", ErrContractFailed, t.Hash(), err)
			}
			if effect != nil {
				if err := v.ApplyEffect(effect); err != nil {
					return fmt.Errorf("tx %s effect: %w", t.Hash(), err)
				}
			}
		}
	}
	return nil
}

// executeBlock applies a block against a clone of the base ledger and
// captures undo data: the prior state of every account the block touched.
// The base view is untouched; callers swap in the returned view only after
// everything else succeeded.
func (c *Chain) executeBlock(base *ledger.View, blk *block.Block) (*ledger.View, *UndoData, error) {
	work := base.Clone()
	undo := &UndoData{
		Accounts: make(map[string]ledger.Account),
		TxHashes: blk.TxHashes(),
	}
	snapshot := func(addr types.Address) {
		key := addr.String()
		if _, ok := undo.Accounts[key]; !ok {
			undo.Accounts[key] = base.AccountOf(addr)
		}
	}

	for _, t := range blk.Transactions {
		snapshot(t.From)
		snapshot(t.To)
		if err := work.ApplyTx(t.From, t.To, t.Amount); err != nil {
			return nil, nil, fmt.Errorf("tx %s: %w", t.Hash(), err)
		}
		if t.HasPayload() && c.contracts != nil {
			effect, err := c.contracts.Execute(t.Payload, work)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: tx %s: %v", ErrContractFailed, t.Hash(), err)
			}
			if effect != nil {
				for _, d := range effect.Deltas {
					snapshot(d.Addr)
				}
				if err := work.ApplyEffect(effect); err != nil {
					return nil, nil, fmt.Errorf("tx %s effect: %w", t.Hash(), err)
				}
			}
		}
	}
	return work, undo, nil
}

// restoreUndo rewinds a block's ledger effects on the given view.
func restoreUndo(v *ledger.View, undo *UndoData) error {
	for key, acct := range undo.Accounts {
		addr, err := types.HexToAddress(key)
		if err != nil {
			return fmt.Errorf("corrupt undo address %q: %w", key, err)
		}
		v.SetAccount(addr, acct)
	}
	return nil
}
