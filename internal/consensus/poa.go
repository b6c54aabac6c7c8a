package consensus

import (
	"bytes"
	"errors"
	"sort"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
)

// PoA errors.
var (
	ErrNoAuthorities = errors.New("no authorities configured")
	ErrNotAuthority  = errors.New("proposer is not on the authority list")
)

// PoA implements proof-of-authority agreement over a fixed authority list.
// Authorities are sorted at construction so every node derives the same
// round-robin schedule regardless of configuration order.
//
// Turn order is a soft hint only: ValidateProposal accepts a block from ANY
// authority, favoring liveness over strict rotation. If the scheduled
// authority is offline, the chain keeps moving.
type PoA struct {
	authorities [][]byte // sorted compressed pubkeys
}

// NewPoA creates a PoA engine with the given authority public keys.
func NewPoA(authorities [][]byte) (*PoA, error) {
	if len(authorities) == 0 {
		return nil, ErrNoAuthorities
	}
	sorted := make([][]byte, len(authorities))
	copy(sorted, authorities)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})
	return &PoA{authorities: sorted}, nil
}

// Mechanism returns the variant tag.
func (p *PoA) Mechanism() config.Mechanism { return config.MechanismPoA }

// Authorities returns a copy of the sorted authority list.
func (p *PoA) Authorities() [][]byte {
	out := make([][]byte, len(p.authorities))
	copy(out, p.authorities)
	return out
}

// IsAuthority reports whether pubKey is on the authority list.
func (p *PoA) IsAuthority(pubKey []byte) bool {
	return containsKey(p.authorities, pubKey)
}

// SelectProposer returns the authority scheduled for the round, round-robin
// over the sorted list.
func (p *PoA) SelectProposer(_ View, round uint64) ([]byte, error) {
	return p.authorities[round%uint64(len(p.authorities))], nil
}

// ValidateProposal checks that the proposer is an authority and that the
// single proposer signature verifies.
func (p *PoA) ValidateProposal(blk *block.Block, _ View) error {
	h := blk.Header
	if !p.IsAuthority(h.Proposer) {
		return ErrNotAuthority
	}
	return requireProposerSig(h)
}

// ResolveFork picks the longest branch whose blocks are all authority-signed;
// a branch containing a non-authority header carries no weight. Ties break
// toward the earliest-seen digest.
func (p *PoA) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	return heaviestTip(tips, view, func(h *block.Header) uint64 {
		if len(h.Proposer) == 0 && h.Height == 0 {
			return 1 // genesis carries no proposer
		}
		if p.IsAuthority(h.Proposer) {
			return 1
		}
		return 0
	})
}

// OnEpochBoundary is a no-op: the authority list is fixed configuration.
func (p *PoA) OnEpochBoundary(View) {}
