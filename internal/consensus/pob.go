package consensus

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// PoB errors.
var (
	ErrBurnTooSmall = errors.New("burn below required minimum")
	ErrUnknownBurn  = errors.New("burn proof does not reference a known burn record")
	ErrBurnReused   = errors.New("burn record already consumed by another block")
	ErrNotBurnOwner = errors.New("burn record belongs to a different identity")
)

// burnRecord is one verifiable destruction of value. A record backs at most
// one block.
type burnRecord struct {
	owner  []byte
	amount uint64
	usedBy types.Hash // zero until consumed
}

// PoB implements proof-of-burn agreement. Identities destroy value to earn
// proposal rights; selection is weighted by cumulative burned value, and
// each burn record is consumable exactly once.
type PoB struct {
	mu      sync.RWMutex
	minBurn uint64
	seq     uint64
	records map[types.Hash]*burnRecord
	totals  map[string]uint64 // hex(pubkey) -> cumulative burned
}

// NewPoB creates a PoB engine requiring at least minBurn per burn record.
func NewPoB(minBurn uint64) *PoB {
	return &PoB{
		minBurn: minBurn,
		records: make(map[types.Hash]*burnRecord),
		totals:  make(map[string]uint64),
	}
}

// Mechanism returns the variant tag.
func (p *PoB) Mechanism() config.Mechanism { return config.MechanismPoB }

// Burn records the destruction of amount by pubKey and returns the burn-proof
// digest a future block header references. The digest covers the owner, the
// amount, and a per-engine sequence number so two identical burns yield
// distinct records.
func (p *PoB) Burn(pubKey []byte, amount uint64) (types.Hash, error) {
	if amount < p.minBurn {
		return types.Hash{}, fmt.Errorf("%w: %d < %d", ErrBurnTooSmall, amount, p.minBurn)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, 0, len(pubKey)+16)
	buf = append(buf, pubKey...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = binary.LittleEndian.AppendUint64(buf, p.seq)
	p.seq++

	proof := crypto.Hash(buf)
	owner := make([]byte, len(pubKey))
	copy(owner, pubKey)
	p.records[proof] = &burnRecord{owner: owner, amount: amount}
	p.totals[hex.EncodeToString(pubKey)] += amount
	return proof, nil
}

// BurnedBy returns the cumulative value burned by an identity.
func (p *PoB) BurnedBy(pubKey []byte) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totals[hex.EncodeToString(pubKey)]
}

// SelectProposer picks an identity with probability proportional to its
// cumulative burned value, seeded from the canonical tip digest.
func (p *PoB) SelectProposer(view View, round uint64) ([]byte, error) {
	p.mu.RLock()
	entries := make([]weightEntry, 0, len(p.totals))
	for k, burned := range p.totals {
		pub, err := hex.DecodeString(k)
		if err != nil {
			continue
		}
		entries = append(entries, weightEntry{key: pub, weight: burned})
	}
	p.mu.RUnlock()

	winner := weightedPick(selectionSeed(view.TipHash(), round), entries)
	if winner == nil {
		return nil, ErrNoProposer
	}
	return winner, nil
}

// ValidateProposal checks that the header's burn proof references a known
// burn record owned by the proposer, not already consumed by a different
// canonical block, and that the proposer signature verifies. Validation
// consumes nothing: a burn is bound to a block only when BlockApplied
// reports that block canonical, so a rejected or losing candidate leaves
// the proposer's burn spendable.
func (p *PoB) ValidateProposal(blk *block.Block, _ View) error {
	h := blk.Header

	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[h.BurnProof]
	if !ok {
		return ErrUnknownBurn
	}
	if !bytes.Equal(rec.owner, h.Proposer) {
		return ErrNotBurnOwner
	}
	if !rec.usedBy.IsZero() && rec.usedBy != blk.Hash() {
		return ErrBurnReused
	}
	return requireProposerSig(h)
}

// BlockApplied binds the block's burn record to the block digest once the
// block is canonical. Every node sees the same canonical order, so the
// binding is identical across nodes regardless of which losing candidates
// each one happened to vet.
func (p *PoB) BlockApplied(blk *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[blk.Header.BurnProof]; ok {
		rec.usedBy = blk.Hash()
	}
}

// BlockReverted releases the burn record bound to a block a reorg removed
// from the canonical chain, making it spendable again.
func (p *PoB) BlockReverted(blk *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[blk.Header.BurnProof]; ok && rec.usedBy == blk.Hash() {
		rec.usedBy = types.Hash{}
	}
}

// ResolveFork picks the tip with the highest cumulative burned value along
// its branch, summing the referenced burn records. Ties break toward the
// earliest-seen digest.
func (p *PoB) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	return heaviestTip(tips, view, func(h *block.Header) uint64 {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if rec, ok := p.records[h.BurnProof]; ok {
			return rec.amount
		}
		return 0
	})
}

// OnEpochBoundary is a no-op: burn totals only grow through explicit burns.
func (p *PoB) OnEpochBoundary(View) {}
