package consensus

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("header hash does not meet difficulty target")
	ErrZeroDifficulty   = errors.New("difficulty must be > 0")
	ErrBadDifficulty    = errors.New("header difficulty does not match configured target")
)

// maxUint256 is 2^256 - 1.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PoW implements proof-of-work agreement. Anyone may propose; a proposal is
// valid when the recomputed header digest meets the difficulty target, and
// fork choice follows the heaviest cumulative work.
type PoW struct {
	difficulty uint64
}

// NewPoW creates a PoW engine with a fixed difficulty.
func NewPoW(difficulty uint64) (*PoW, error) {
	if difficulty == 0 {
		return nil, ErrZeroDifficulty
	}
	return &PoW{difficulty: difficulty}, nil
}

// Mechanism returns the variant tag.
func (p *PoW) Mechanism() config.Mechanism { return config.MechanismPoW }

// target returns maxUint256 / difficulty as a 256-bit bound.
func target(difficulty uint64) *big.Int {
	d := new(big.Int).SetUint64(difficulty)
	return new(big.Int).Div(maxUint256, d)
}

// SelectProposer returns nil: work is open to any identity, eligibility is
// proven by the nonce, not the proposer field.
func (p *PoW) SelectProposer(View, uint64) ([]byte, error) {
	return nil, nil
}

// ValidateProposal checks that the header's stated difficulty matches the
// configured target and that the recomputed header digest meets it. PoW
// blocks carry no proposer signature; the work itself is the credential.
func (p *PoW) ValidateProposal(blk *block.Block, _ View) error {
	h := blk.Header
	if h.Difficulty == 0 {
		return ErrZeroDifficulty
	}
	if h.Difficulty != p.difficulty {
		return fmt.Errorf("%w: got %d, want %d", ErrBadDifficulty, h.Difficulty, p.difficulty)
	}
	hash := crypto.Hash(h.SigningBytes())
	hashInt := new(big.Int).SetBytes(hash[:])
	if hashInt.Cmp(target(h.Difficulty)) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// ResolveFork picks the tip with the highest cumulative work, summing header
// difficulties along each branch. Equal work breaks toward the earliest-seen
// digest.
func (p *PoW) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	return heaviestTip(tips, view, func(h *block.Header) uint64 { return h.Difficulty })
}

// OnEpochBoundary is a no-op: PoW has no validator set to rotate.
func (p *PoW) OnEpochBoundary(View) {}

// Seal mines the block by iterating the nonce until the header digest meets
// the target. The context cancels the search; cancellation is checked every
// 65536 iterations.
func (p *PoW) Seal(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	blk.Header.Difficulty = p.difficulty
	t := target(p.difficulty)

	hashInt := new(big.Int)
	for nonce := uint64(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		blk.Header.Nonce = nonce
		hash := crypto.Hash(blk.Header.SigningBytes())
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(t) <= 0 {
			return nil
		}
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}
