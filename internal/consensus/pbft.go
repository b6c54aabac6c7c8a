package consensus

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
)

// PBFT errors.
var (
	ErrTooFewValidators = errors.New("validator set smaller than 3f+1")
	ErrNotPrimary       = errors.New("proposer is not the primary for the round")
	ErrMissingCert      = errors.New("block missing quorum certificate")
	ErrCertMismatch     = errors.New("quorum certificate does not cover this block")
	ErrConflictingTips  = errors.New("conflicting quorum-committed tips: protocol violation")
)

// PBFT implements practical-byzantine-fault-tolerant agreement over a fixed
// validator set of at least 3f+1 members. The primary rotates round-robin;
// a block is acceptable only with a certificate of at least 2f+1 commit
// votes, at which point it is final. Forks never form: two conflicting
// certificates are a protocol violation, not a race to resolve.
type PBFT struct {
	validators [][]byte
	f          int
}

// NewPBFT creates a PBFT engine tolerating f byzantine validators.
func NewPBFT(validators [][]byte, f int) (*PBFT, error) {
	if f < 1 {
		return nil, fmt.Errorf("fault tolerance must be >= 1, got %d", f)
	}
	if len(validators) < 3*f+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewValidators, len(validators), 3*f+1)
	}
	return &PBFT{validators: validators, f: f}, nil
}

// Mechanism returns the variant tag.
func (p *PBFT) Mechanism() config.Mechanism { return config.MechanismPBFT }

// Quorum returns the certificate threshold, 2f+1.
func (p *PBFT) Quorum() int { return 2*p.f + 1 }

// Validators returns a copy of the validator set.
func (p *PBFT) Validators() [][]byte {
	out := make([][]byte, len(p.validators))
	copy(out, p.validators)
	return out
}

// Primary returns the validator scheduled to lead the given round. A round
// abort rotates the primary by advancing the round index (view change).
func (p *PBFT) Primary(round uint64) []byte {
	return p.validators[round%uint64(len(p.validators))]
}

// SelectProposer returns the round's primary.
func (p *PBFT) SelectProposer(_ View, round uint64) ([]byte, error) {
	return p.Primary(round), nil
}

// ValidateProposal checks that the block comes from the round's primary,
// carries a valid proposer signature, and is covered by a quorum certificate
// of at least 2f+1 commit votes from known validators.
func (p *PBFT) ValidateProposal(blk *block.Block, _ View) error {
	h := blk.Header

	if !bytes.Equal(h.Proposer, p.Primary(h.Round)) {
		return fmt.Errorf("%w: round %d", ErrNotPrimary, h.Round)
	}
	if err := requireProposerSig(h); err != nil {
		return err
	}

	if blk.Cert == nil {
		return ErrMissingCert
	}
	if blk.Cert.BlockHash != blk.Hash() || blk.Cert.Round != h.Round {
		return ErrCertMismatch
	}
	return blk.Cert.Verify(p.validators, p.Quorum())
}

// ResolveFork tolerates no forks: a single tip is returned as-is, anything
// more is a protocol violation because two conflicting certificates require
// f+1 equivocating validators.
func (p *PBFT) ResolveFork(tips []*block.Block, _ View) (*block.Block, error) {
	switch len(tips) {
	case 0:
		return nil, ErrNoTips
	case 1:
		return tips[0], nil
	default:
		return nil, ErrConflictingTips
	}
}

// OnEpochBoundary is a no-op: the validator set is fixed for the engine's
// lifetime.
func (p *PBFT) OnEpochBoundary(View) {}
