// Package chain implements the block-processing state machine: candidate
// admission, ledger application with undo data, fork tracking and reorgs,
// and finality bookkeeping. Consensus-variant rules are delegated to an
// internal/consensus.Engine; the chain owns everything mechanism-agnostic.
package chain

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/internal/ledger"
	"github.com/zzzizo/cig-chain/internal/log"
	"github.com/zzzizo/cig-chain/internal/storage"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// ContractEngine executes a transaction payload against a ledger view and
// returns the balance effects to fold in. A nil engine leaves payloads
// inert: they are carried and hashed but move no funds.
type ContractEngine interface {
	Execute(payload []byte, view *ledger.View) (*ledger.Effect, error)
}

// Handlers run synchronously after the chain lock is released, so they may
// read chain state but should hand heavy work to their own goroutines.
type (
	// HeadHandler fires when the canonical tip changes.
	HeadHandler func(blk *block.Block, st State)
	// FinalizedHandler fires when a block becomes irreversible.
	FinalizedHandler func(blk *block.Block)
	// RevertedTxHandler receives transactions knocked out of the
	// canonical chain by a reorg.
	RevertedTxHandler func(txs []*tx.Transaction)
)

// Chain is the single-shard block-processing core. All mutation flows
// through SubmitCandidate; reads take a shared lock.
type Chain struct {
	mu sync.RWMutex

	cfg     *config.Config
	genesis *config.Genesis
	shardID uint32
	sharded bool

	store  *BlockStore
	arena  *forkArena
	ledger *ledger.View
	state  State

	engine    consensus.Engine
	lifecycle consensus.Lifecycle // non-nil when engine tracks canonical applies
	validator *consensus.Validator
	tracker   *consensus.ProposerTracker
	contracts ContractEngine

	rounds *roundManager

	onHeadChange  HeadHandler
	onFinalized   FinalizedHandler
	onRevertedTxs RevertedTxHandler

	logger zerolog.Logger
}

// Option configures a Chain at construction time.
type Option func(*Chain)

// WithContractEngine installs a payload executor.
func WithContractEngine(ce ContractEngine) Option {
	return func(c *Chain) { c.contracts = ce }
}

// WithShard marks the chain as one shard of a sharded deployment.
func WithShard(id uint32) Option {
	return func(c *Chain) {
		c.shardID = id
		c.sharded = true
		c.logger = log.WithShard(id).With().Str("component", "chain").Logger()
	}
}

// WithEngine overrides the engine built from cfg. Used by the sharded
// coordinator, which owns the composite engine and shares it with every
// shard chain so cross-shard references stay checked.
func WithEngine(eng consensus.Engine) Option {
	return func(c *Chain) { c.engine = eng }
}

// New creates a chain over the given database. The genesis block is built
// and applied on first start; on restart the tip and ledger are rebuilt
// from storage.
func New(cfg *config.Config, gen *config.Genesis, db storage.DB, opts ...Option) (*Chain, error) {
	c := &Chain{
		cfg:     cfg,
		genesis: gen,
		store:   NewBlockStore(db),
		arena:   newForkArena(),
		tracker: consensus.NewProposerTracker(),
		logger:  log.Chain,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.engine == nil {
		eng, err := consensus.New(cfg)
		if err != nil {
			return nil, err
		}
		c.engine = eng
	}
	c.lifecycle, _ = c.engine.(consensus.Lifecycle)
	c.validator = consensus.NewValidator(c.engine)
	c.rounds = newRoundManager(c)

	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

// CheckCandidate runs structural and consensus validation against the
// current tip without applying anything. Useful for vetting a block before
// relaying it; SubmitCandidate repeats these checks under the write lock.
func (c *Chain) CheckCandidate(blk *block.Block) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validator.ValidateBlock(blk, c.view())
}

// Engine returns the consensus engine driving this chain.
func (c *Chain) Engine() consensus.Engine { return c.engine }

// Tracker returns the proposer-behavior tracker.
func (c *Chain) Tracker() *consensus.ProposerTracker { return c.tracker }

// OnHeadChange registers the tip-change handler.
func (c *Chain) OnHeadChange(h HeadHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHeadChange = h
}

// OnFinalized registers the finality handler.
func (c *Chain) OnFinalized(h FinalizedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinalized = h
}

// OnRevertedTxs registers the reorg tx-eviction handler.
func (c *Chain) OnRevertedTxs(h RevertedTxHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRevertedTxs = h
}

// State returns a copy of the current chain state.
func (c *Chain) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Height returns the canonical tip height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Height
}

// TipHash returns the canonical tip hash.
func (c *Chain) TipHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TipHash
}

// TipTimestamp returns the canonical tip's timestamp.
func (c *Chain) TipTimestamp() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.TipTimestamp
}

// ShardID returns the shard this chain serves (0 when unsharded).
func (c *Chain) ShardID() uint32 { return c.shardID }

// BalanceOf returns the canonical balance of an address.
func (c *Chain) BalanceOf(addr types.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.BalanceOf(addr)
}

// NonceOf returns the canonical nonce of an address.
func (c *Chain) NonceOf(addr types.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.NonceOf(addr)
}

// LedgerView returns an isolated copy of the canonical ledger, suitable
// for speculative validation (e.g. mempool admission).
func (c *Chain) LedgerView() *ledger.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Clone()
}

// GetBlock retrieves a block by hash from the canonical store or the fork
// arena.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	if blk, ok := c.arena.get(hash); ok {
		return blk, nil
	}
	return c.store.GetBlock(hash)
}

// GetBlockByHeight retrieves the canonical block at a height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// GetTxLocation returns the height and block of a canonical transaction.
func (c *Chain) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	return c.store.GetTxLocation(txHash)
}

// IsFinalized reports whether the block is canonical at or below the
// finalized height.
func (c *Chain) IsFinalized(hash types.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isFinalizedLocked(hash)
}

func (c *Chain) isFinalizedLocked(hash types.Hash) bool {
	blk, ok := c.arena.get(hash)
	if !ok {
		stored, err := c.store.GetBlock(hash)
		if err != nil {
			return false
		}
		blk = stored
	}
	h := blk.Header.Height
	if h > c.state.FinalHeight {
		return false
	}
	canonical, ok := c.store.CanonicalHash(h)
	return ok && canonical == hash
}

// view returns a consensus.View over the current chain state. Callers must
// hold at least the read lock for the duration of use.
func (c *Chain) view() *chainView {
	return &chainView{c: c}
}

// chainView adapts the chain to the consensus engine's read surface. It
// resolves headers through the fork arena first so engines can weigh
// non-canonical branches.
type chainView struct {
	c *Chain
}

func (v *chainView) Height() uint64      { return v.c.state.Height }
func (v *chainView) TipHash() types.Hash { return v.c.state.TipHash }
func (v *chainView) ShardID() uint32     { return v.c.shardID }

func (v *chainView) HeaderByHash(h types.Hash) (*block.Header, bool) {
	if blk, ok := v.c.arena.get(h); ok {
		return blk.Header, true
	}
	blk, err := v.c.store.GetBlock(h)
	if err != nil {
		return nil, false
	}
	return blk.Header, true
}

func (v *chainView) SeenAt(h types.Hash) uint64 {
	return v.c.arena.seenAt(h)
}
