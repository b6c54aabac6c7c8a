package consensus

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// DPoS errors.
var (
	ErrNoDelegates   = errors.New("no elected delegates")
	ErrWrongDelegate = errors.New("proposer is not the scheduled delegate for the round")
	ErrZeroVote      = errors.New("vote weight must be > 0")
)

// DPoS implements delegated proof-of-stake. Token holders vote for delegate
// candidates; the top delegateCount by accumulated weight form the active
// set, which proposes in round-robin order. The active set changes only at
// epoch boundaries, never mid-epoch.
type DPoS struct {
	mu            sync.RWMutex
	delegateCount int
	votes         map[types.Address]ballot // one ballot per voter; revoting replaces
	active        [][]byte                 // elected delegates in schedule order
}

type ballot struct {
	delegate string // hex(pubkey)
	weight   uint64
}

// NewDPoS creates a DPoS engine electing up to delegateCount delegates.
func NewDPoS(delegateCount int) *DPoS {
	return &DPoS{
		delegateCount: delegateCount,
		votes:         make(map[types.Address]ballot),
	}
}

// Mechanism returns the variant tag.
func (d *DPoS) Mechanism() config.Mechanism { return config.MechanismDPoS }

// Vote records voter's weighted ballot for a delegate candidate. A voter has
// one ballot; voting again moves the full weight to the new delegate.
func (d *DPoS) Vote(voter types.Address, delegate []byte, weight uint64) error {
	if weight == 0 {
		return ErrZeroVote
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.votes[voter] = ballot{delegate: hex.EncodeToString(delegate), weight: weight}
	return nil
}

// Elect tallies ballots and installs the top delegateCount candidates as the
// active set. Ties in weight break toward the lexicographically smaller key
// so every node elects the same schedule.
func (d *DPoS) Elect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	tally := make(map[string]uint64)
	for _, b := range d.votes {
		tally[b.delegate] += b.weight
	}

	type candidate struct {
		key    string
		weight uint64
	}
	ranked := make([]candidate, 0, len(tally))
	for k, w := range tally {
		ranked = append(ranked, candidate{key: k, weight: w})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].key < ranked[j].key
	})

	n := d.delegateCount
	if n > len(ranked) {
		n = len(ranked)
	}
	d.active = make([][]byte, 0, n)
	for _, c := range ranked[:n] {
		pub, err := hex.DecodeString(c.key)
		if err != nil {
			continue
		}
		d.active = append(d.active, pub)
	}
}

// ActiveDelegates returns a copy of the current schedule.
func (d *DPoS) ActiveDelegates() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([][]byte, len(d.active))
	copy(out, d.active)
	return out
}

// SelectProposer returns the delegate scheduled for the round, round-robin
// over the active set.
func (d *DPoS) SelectProposer(_ View, round uint64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.active) == 0 {
		return nil, ErrNoDelegates
	}
	return d.active[round%uint64(len(d.active))], nil
}

// ValidateProposal checks that the block's proposer is the delegate scheduled
// for the header's round index and that the proposer signature verifies.
func (d *DPoS) ValidateProposal(blk *block.Block, view View) error {
	h := blk.Header

	expected, err := d.SelectProposer(view, h.Round)
	if err != nil {
		return err
	}
	if !bytes.Equal(h.Proposer, expected) {
		return fmt.Errorf("%w: round %d", ErrWrongDelegate, h.Round)
	}
	return requireProposerSig(h)
}

// isActiveDelegate reports whether pub is in the current active set.
func (d *DPoS) isActiveDelegate(pub []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return containsKey(d.active, pub)
}

// ResolveFork picks the longest branch counting only delegate-signed blocks;
// a block proposed from outside the active set carries no weight. Equal
// weights break toward the earlier header timestamp, then earliest-seen.
func (d *DPoS) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	if len(tips) == 0 {
		return nil, ErrNoTips
	}

	weigh := func(h *block.Header) uint64 {
		if len(h.Proposer) == 0 && h.Height == 0 {
			return 1 // genesis carries no proposer
		}
		if d.isActiveDelegate(h.Proposer) {
			return 1
		}
		return 0
	}
	best := tips[0]
	bestLen := branchWeight(view, best, weigh)
	for _, tip := range tips[1:] {
		l := branchWeight(view, tip, weigh)
		switch {
		case l > bestLen:
			best, bestLen = tip, l
		case l == bestLen && tip.Header.Timestamp < best.Header.Timestamp:
			best = tip
		case l == bestLen && tip.Header.Timestamp == best.Header.Timestamp && earlierSeen(view, tip, best):
			best = tip
		}
	}
	return best, nil
}

// OnEpochBoundary re-runs the delegate election.
func (d *DPoS) OnEpochBoundary(View) {
	d.Elect()
}
