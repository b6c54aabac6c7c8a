package consensus

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// PoS errors.
var (
	ErrStakeTooLow      = errors.New("stake below required minimum")
	ErrUnknownValidator = errors.New("proposer is not a registered validator")
	ErrBadStakeRef      = errors.New("stake snapshot reference does not match")
)

// PoS implements proof-of-stake agreement. Validators register stake with the
// engine; proposer selection is stake-weighted and seeded deterministically
// from the parent digest, so every node derives the same winner.
type PoS struct {
	mu       sync.RWMutex
	minStake uint64
	stakes   map[string]uint64 // hex(pubkey) -> staked base units
}

// NewPoS creates a PoS engine requiring at least minStake to validate.
func NewPoS(minStake uint64) *PoS {
	return &PoS{
		minStake: minStake,
		stakes:   make(map[string]uint64),
	}
}

// Mechanism returns the variant tag.
func (p *PoS) Mechanism() config.Mechanism { return config.MechanismPoS }

// Register adds a validator with the given stake. Registering again replaces
// the previous stake.
func (p *PoS) Register(pubKey []byte, stake uint64) error {
	if stake < p.minStake {
		return fmt.Errorf("%w: %d < %d", ErrStakeTooLow, stake, p.minStake)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stakes[hex.EncodeToString(pubKey)] = stake
	return nil
}

// Withdraw removes a validator from the registry.
func (p *PoS) Withdraw(pubKey []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stakes, hex.EncodeToString(pubKey))
}

// StakeOf returns a validator's registered stake (zero if unknown).
func (p *PoS) StakeOf(pubKey []byte) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stakes[hex.EncodeToString(pubKey)]
}

// entries returns the registry as weight entries, decoding keys back to raw
// public key bytes.
func (p *PoS) entries() []weightEntry {
	out := make([]weightEntry, 0, len(p.stakes))
	for k, stake := range p.stakes {
		pub, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		out = append(out, weightEntry{key: pub, weight: stake})
	}
	return out
}

// Snapshot returns a digest over the sorted registry contents. Proposers
// record it in the header's stake reference so validators can detect a
// diverged validator set.
func (p *PoS) Snapshot() types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.stakes))
	for k := range p.stakes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, len(keys)*41)
	for _, k := range keys {
		pub, _ := hex.DecodeString(k)
		buf = append(buf, pub...)
		buf = binary.LittleEndian.AppendUint64(buf, p.stakes[k])
	}
	return crypto.Hash(buf)
}

// SelectProposer picks a validator with probability proportional to stake,
// seeded from the canonical tip digest and round index.
func (p *PoS) SelectProposer(view View, round uint64) ([]byte, error) {
	p.mu.RLock()
	entries := p.entries()
	p.mu.RUnlock()

	winner := weightedPick(selectionSeed(view.TipHash(), round), entries)
	if winner == nil {
		return nil, ErrNoProposer
	}
	return winner, nil
}

// ValidateProposal checks that the proposer is registered with at least the
// minimum stake, that the proposer signature verifies, and that any stake
// reference the header carries matches the current registry snapshot.
func (p *PoS) ValidateProposal(blk *block.Block, _ View) error {
	h := blk.Header

	stake := p.StakeOf(h.Proposer)
	if stake == 0 {
		return ErrUnknownValidator
	}
	if stake < p.minStake {
		return fmt.Errorf("%w: %d < %d", ErrStakeTooLow, stake, p.minStake)
	}
	if err := requireProposerSig(h); err != nil {
		return err
	}
	if !h.StakeRef.IsZero() && h.StakeRef != p.Snapshot() {
		return ErrBadStakeRef
	}
	return nil
}

// ResolveFork picks the tip with the highest cumulative proposer stake along
// its branch. Equal weight breaks toward the earliest-seen digest.
func (p *PoS) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	return heaviestTip(tips, view, func(h *block.Header) uint64 {
		return p.StakeOf(h.Proposer)
	})
}

// OnEpochBoundary is a no-op: the registry changes only through explicit
// Register/Withdraw calls, and removal policy for misbehaving validators is
// an operator decision.
func (p *PoS) OnEpochBoundary(View) {}
