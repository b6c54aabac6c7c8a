// Package node wires configuration, storage, consensus, chain, and mempool
// into a runnable consensus core that can be embedded in any binary.
package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/internal/builder"
	"github.com/zzzizo/cig-chain/internal/chain"
	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/internal/log"
	"github.com/zzzizo/cig-chain/internal/mempool"
	"github.com/zzzizo/cig-chain/internal/storage"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

const evictInterval = time.Minute

// Node is a fully-initialized consensus core: one chain (or one chain per
// shard), a pending pool per chain, and an optional block builder when a
// proposer key is configured.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	dbs    []storage.DB
	ch     *chain.Chain    // single-chain mode
	shards *chain.ShardSet // sharded mode
	pools  []*mempool.Pool // indexed by shard (len 1 when unsharded)

	proposerKey *crypto.PrivateKey
	builder     *builder.Builder
	contracts   chain.ContractEngine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithProposerKey enables block building with the given key.
func WithProposerKey(key *crypto.PrivateKey) Option {
	return func(n *Node) { n.proposerKey = key }
}

// WithContractEngine installs a payload executor on every chain.
func WithContractEngine(ce chain.ContractEngine) Option {
	return func(n *Node) { n.contracts = ce }
}

// New creates and initializes a node. It opens storage, bootstraps or
// resumes the chain, and wires the mempool, but starts no background work;
// call Start for that.
func New(cfg *config.Config, gen *config.Genesis, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		genesis: gen,
		logger:  log.Node,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.logger.Info().
		Str("chain", gen.ChainName).
		Str("mechanism", string(cfg.Mechanism)).
		Msg("starting consensus core")

	var err error
	if cfg.Mechanism == config.MechanismSharded {
		err = n.initSharded()
	} else {
		err = n.initSingle()
	}
	if err != nil {
		n.closeDBs()
		return nil, err
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// openDB opens the database for one chain. An empty data dir selects the
// in-memory backend.
func (n *Node) openDB(sub string) (storage.DB, error) {
	if n.cfg.DataDir == "" {
		db := storage.NewMemory()
		n.dbs = append(n.dbs, db)
		return db, nil
	}
	path := filepath.Join(n.cfg.DataDir, sub)
	db, err := storage.NewBadger(path)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	n.dbs = append(n.dbs, db)
	n.logger.Info().Str("path", path).Msg("database opened")
	return db, nil
}

func (n *Node) initSingle() error {
	db, err := n.openDB("chaindata")
	if err != nil {
		return err
	}

	var opts []chain.Option
	if n.contracts != nil {
		opts = append(opts, chain.WithContractEngine(n.contracts))
	}
	ch, err := chain.New(n.cfg, n.genesis, db, opts...)
	if err != nil {
		return fmt.Errorf("create chain: %w", err)
	}
	n.ch = ch

	pool := mempool.New(ch, 5000)
	n.pools = []*mempool.Pool{pool}
	n.wireChain(ch, pool)

	if n.proposerKey != nil {
		n.builder = builder.New(ch, ch.Engine(), pool, n.proposerKey)
	}

	st := ch.State()
	if st.IsGenesis() {
		n.logger.Info().Msg("chain initialized from genesis")
	} else {
		n.logger.Info().
			Uint64("height", ch.Height()).
			Str("tip", ch.TipHash().String()).
			Msg("chain resumed from database")
	}
	return nil
}

func (n *Node) initSharded() error {
	// All shards share one database; each gets its own key namespace.
	base, err := n.openDB("chaindata")
	if err != nil {
		return err
	}
	shards, err := chain.NewShardSet(n.cfg, n.genesis, func(shard uint32) (storage.DB, error) {
		return storage.NewPrefixDB(base, []byte(fmt.Sprintf("shard/%d/", shard))), nil
	})
	if err != nil {
		return fmt.Errorf("create shard set: %w", err)
	}
	n.shards = shards

	n.pools = make([]*mempool.Pool, shards.ShardCount())
	for id := uint32(0); int(id) < shards.ShardCount(); id++ {
		ch, err := shards.Shard(id)
		if err != nil {
			return err
		}
		pool := mempool.New(ch, 5000)
		n.pools[id] = pool
		n.wireChain(ch, pool)
	}

	n.logger.Info().Int("shards", shards.ShardCount()).Msg("shard set ready")
	return nil
}

// wireChain connects a chain's outbound handlers to the mempool and log.
func (n *Node) wireChain(ch *chain.Chain, pool *mempool.Pool) {
	ch.OnHeadChange(func(blk *block.Block, st chain.State) {
		pool.RemoveConfirmed(blk.Transactions)
		n.logger.Info().
			Uint32("shard", ch.ShardID()).
			Uint64("height", st.Height).
			Str("tip", st.TipHash.String()).
			Str("status", st.Status.String()).
			Msg("head changed")
	})
	ch.OnFinalized(func(blk *block.Block) {
		n.logger.Info().
			Uint32("shard", ch.ShardID()).
			Uint64("height", blk.Header.Height).
			Str("hash", blk.Hash().String()).
			Msg("block finalized")
	})
	ch.OnRevertedTxs(func(txs []*tx.Transaction) {
		reinserted := pool.Reinsert(txs)
		n.logger.Info().
			Int("reverted", len(txs)).
			Int("reinserted", reinserted).
			Msg("reverted transactions returned to mempool")
	})
}

// Chain returns the single-chain core (nil in sharded mode).
func (n *Node) Chain() *chain.Chain { return n.ch }

// Shards returns the shard set (nil in single-chain mode).
func (n *Node) Shards() *chain.ShardSet { return n.shards }

// Pool returns the pending pool for a shard (shard 0 when unsharded).
func (n *Node) Pool(shard uint32) *mempool.Pool {
	if int(shard) >= len(n.pools) {
		return nil
	}
	return n.pools[shard]
}

// shardFor assigns a sender address to a shard. Deterministic across nodes.
func (n *Node) shardFor(addr types.Address) uint32 {
	if n.shards == nil {
		return 0
	}
	return binary.BigEndian.Uint32(addr[:4]) % uint32(n.shards.ShardCount())
}

// SubmitTransaction admits a transaction to the pending pool of its shard.
func (n *Node) SubmitTransaction(t *tx.Transaction) error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction", mempool.ErrValidation)
	}
	pool := n.Pool(n.shardFor(t.From))
	if err := pool.Add(t); err != nil {
		return err
	}
	n.logger.Debug().Str("tx", t.Hash().String()).Msg("transaction accepted")
	return nil
}

// SubmitCandidate routes a candidate block into the chain (or its shard).
func (n *Node) SubmitCandidate(blk *block.Block) error {
	if n.shards != nil {
		return n.shards.SubmitCandidate(blk)
	}
	return n.ch.SubmitCandidate(blk)
}

// SubmitVote routes a PBFT vote to the chain running a round for its block.
func (n *Node) SubmitVote(v *block.Vote) (consensus.QuorumState, error) {
	if n.shards == nil {
		return n.ch.SubmitVote(v)
	}
	for id := uint32(0); int(id) < n.shards.ShardCount(); id++ {
		ch, err := n.shards.Shard(id)
		if err != nil {
			continue
		}
		if hash, _, _, ok := ch.ActiveRound(); ok && hash == v.BlockHash {
			return ch.SubmitVote(v)
		}
	}
	return consensus.Collecting, chain.ErrNoActiveRound
}

// ProposeBlock builds a candidate from the pending pool and submits it.
// Requires a proposer key (single-chain mode).
func (n *Node) ProposeBlock(ctx context.Context, round uint64) (*block.Block, error) {
	if n.builder == nil {
		return nil, fmt.Errorf("node has no proposer key")
	}
	blk, err := n.builder.Build(ctx, round)
	if err != nil {
		return nil, fmt.Errorf("build candidate: %w", err)
	}
	// PBFT candidates are not applied directly: they enter a vote round
	// and are submitted with their certificate once the quorum commits.
	if n.cfg.Mechanism == config.MechanismPBFT {
		if err := n.ch.OpenRound(blk); err != nil {
			return blk, err
		}
		return blk, nil
	}
	if err := n.SubmitCandidate(blk); err != nil {
		return blk, err
	}
	return blk, nil
}

// Start launches background maintenance.
func (n *Node) Start() error {
	n.wg.Add(1)
	go n.evictLoop()
	n.logger.Info().Msg("node started")
	return nil
}

func (n *Node) evictLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			for _, pool := range n.pools {
				if evicted := pool.Evict(); evicted > 0 {
					n.logger.Debug().Int("evicted", evicted).Msg("mempool trimmed")
				}
			}
		}
	}
}

// Stop shuts the node down and closes storage.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.closeDBs()
	n.logger.Info().Msg("node stopped")
}

func (n *Node) closeDBs() {
	for _, db := range n.dbs {
		if err := db.Close(); err != nil {
			n.logger.Error().Err(err).Msg("close database")
		}
	}
	n.dbs = nil
}
