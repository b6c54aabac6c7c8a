// Package consensus implements the pluggable agreement strategies. Every
// variant is a flat implementation of the same four operations; composite
// variants (hybrid, sharded) hold other engines rather than extending them.
package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Errors shared across variants. The chain state machine wraps these into its
// consensus-rule-violation taxonomy when rejecting a candidate.
var (
	ErrNoProposer   = errors.New("no eligible proposer")
	ErrNoTips       = errors.New("no competing tips to resolve")
	ErrMissingSig   = errors.New("block missing proposer signature")
	ErrInvalidSig   = errors.New("invalid proposer signature")
	ErrNotEligible  = errors.New("proposer not eligible")
	ErrUnknownBlock = errors.New("block not reachable from view")
)

// View is the read-only chain state an engine consults. Implementations must
// resolve headers for canonical blocks and for every pending fork tip's
// ancestry, and report arrival order for earliest-seen tie-breaking.
type View interface {
	// Height returns the canonical head height.
	Height() uint64
	// TipHash returns the canonical head digest.
	TipHash() types.Hash
	// HeaderByHash resolves a header by block digest.
	HeaderByHash(h types.Hash) (*block.Header, bool)
	// SeenAt returns the monotonic arrival sequence for a block digest.
	// Unknown digests sort last.
	SeenAt(h types.Hash) uint64
}

// ShardView is implemented by views scoped to a single shard.
type ShardView interface {
	View
	ShardID() uint32
}

// Engine is the uniform contract every agreement variant implements.
// ValidateProposal covers only consensus-specific rules; structural and
// transaction checks happen before the engine is consulted. It must be free
// of side effects: vetting a candidate that is never applied, or that later
// loses a fork, must not change what another candidate may claim. Engines
// that track per-block resource consumption implement Lifecycle and update
// their state from the chain's apply and revert notifications instead.
type Engine interface {
	Mechanism() config.Mechanism
	SelectProposer(view View, round uint64) ([]byte, error)
	ValidateProposal(blk *block.Block, view View) error
	ResolveFork(tips []*block.Block, view View) (*block.Block, error)
	OnEpochBoundary(view View)
}

// Lifecycle is implemented by engines whose rules depend on which blocks are
// canonical. The chain reports every block that becomes canonical and every
// block a reorg knocks back out, in chain order.
type Lifecycle interface {
	BlockApplied(blk *block.Block)
	BlockReverted(blk *block.Block)
}

// requireProposerSig checks the single-signature rule shared by all
// leader-based variants.
func requireProposerSig(h *block.Header) error {
	if len(h.ProposerSig) == 0 {
		return ErrMissingSig
	}
	if !h.VerifyProposerSig() {
		return ErrInvalidSig
	}
	return nil
}

// containsKey reports whether pubKey is present in the set.
func containsKey(set [][]byte, pubKey []byte) bool {
	for _, k := range set {
		if bytes.Equal(k, pubKey) {
			return true
		}
	}
	return false
}

// weightEntry pairs an identity with its selection weight.
type weightEntry struct {
	key    []byte
	weight uint64
}

// weightedPick selects one identity proportionally to weight, using the seed
// as the entropy source. Entries are sorted by key first so every node picks
// the same winner from the same registry contents.
func weightedPick(seed types.Hash, entries []weightEntry) []byte {
	var total uint64
	for _, e := range entries {
		total += e.weight
	}
	if total == 0 {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	r := binary.LittleEndian.Uint64(seed[:8]) % total
	var cum uint64
	for _, e := range entries {
		cum += e.weight
		if r < cum {
			return e.key
		}
	}
	return entries[len(entries)-1].key
}

// selectionSeed derives the deterministic entropy for proposer selection from
// the parent digest and the round index.
func selectionSeed(tip types.Hash, round uint64) types.Hash {
	var buf [types.HashSize + 8]byte
	copy(buf[:types.HashSize], tip[:])
	binary.LittleEndian.PutUint64(buf[types.HashSize:], round)
	return crypto.Hash(buf[:])
}

// branchWeight sums weightOf over a tip's ancestry, walking parent links
// through the view until the genesis sentinel or an unresolvable header.
func branchWeight(view View, tip *block.Block, weightOf func(*block.Header) uint64) uint64 {
	var total uint64
	h := tip.Header
	for h != nil {
		total += weightOf(h)
		if h.PrevHash.IsZero() {
			break
		}
		parent, ok := view.HeaderByHash(h.PrevHash)
		if !ok {
			break
		}
		h = parent
	}
	return total
}

// heaviestTip returns the tip maximizing weightOf over its branch. Ties break
// toward the earliest-seen digest, then lexicographically smallest digest, so
// resolution is deterministic for any input order.
func heaviestTip(tips []*block.Block, view View, weightOf func(*block.Header) uint64) (*block.Block, error) {
	if len(tips) == 0 {
		return nil, ErrNoTips
	}

	best := tips[0]
	bestWeight := branchWeight(view, best, weightOf)
	for _, tip := range tips[1:] {
		w := branchWeight(view, tip, weightOf)
		switch {
		case w > bestWeight:
			best, bestWeight = tip, w
		case w == bestWeight && earlierSeen(view, tip, best):
			best = tip
		}
	}
	return best, nil
}

// earlierSeen reports whether a arrived before b.
func earlierSeen(view View, a, b *block.Block) bool {
	ha, hb := a.Hash(), b.Hash()
	sa, sb := view.SeenAt(ha), view.SeenAt(hb)
	if sa != sb {
		return sa < sb
	}
	return bytes.Compare(ha[:], hb[:]) < 0
}
