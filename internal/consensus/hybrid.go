package consensus

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/block"
)

// ErrNoSubEngines is returned when a composite engine gets an empty list.
var ErrNoSubEngines = errors.New("composite engine needs at least one sub-engine")

// Hybrid composes an ordered list of sub-engines. Proposer selection goes to
// the first sub-engine able to name one; a proposal must satisfy every
// sub-engine's rules; fork choice delegates to the primary (first) engine.
type Hybrid struct {
	subs []Engine
}

// NewHybrid creates a hybrid engine over the given sub-engines, in order.
func NewHybrid(subs []Engine) (*Hybrid, error) {
	if len(subs) == 0 {
		return nil, ErrNoSubEngines
	}
	return &Hybrid{subs: subs}, nil
}

// Mechanism returns the variant tag.
func (h *Hybrid) Mechanism() config.Mechanism { return config.MechanismHybrid }

// SubEngines returns the ordered sub-engines.
func (h *Hybrid) SubEngines() []Engine { return h.subs }

// SelectProposer asks each sub-engine in order and returns the first
// successful answer.
func (h *Hybrid) SelectProposer(view View, round uint64) ([]byte, error) {
	var lastErr error
	for _, sub := range h.subs {
		proposer, err := sub.SelectProposer(view, round)
		if err == nil {
			return proposer, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNoProposer, lastErr)
}

// ValidateProposal is the conjunction of all sub-engines' validations: every
// one must accept.
func (h *Hybrid) ValidateProposal(blk *block.Block, view View) error {
	for _, sub := range h.subs {
		if err := sub.ValidateProposal(blk, view); err != nil {
			return fmt.Errorf("%s: %w", sub.Mechanism(), err)
		}
	}
	return nil
}

// ResolveFork delegates to the primary sub-engine.
func (h *Hybrid) ResolveFork(tips []*block.Block, view View) (*block.Block, error) {
	return h.subs[0].ResolveFork(tips, view)
}

// OnEpochBoundary notifies every sub-engine.
func (h *Hybrid) OnEpochBoundary(view View) {
	for _, sub := range h.subs {
		sub.OnEpochBoundary(view)
	}
}

// BlockApplied forwards the canonical apply to lifecycle-aware sub-engines.
func (h *Hybrid) BlockApplied(blk *block.Block) {
	for _, sub := range h.subs {
		if lc, ok := sub.(Lifecycle); ok {
			lc.BlockApplied(blk)
		}
	}
}

// BlockReverted forwards the reorg revert to lifecycle-aware sub-engines.
func (h *Hybrid) BlockReverted(blk *block.Block) {
	for _, sub := range h.subs {
		if lc, ok := sub.(Lifecycle); ok {
			lc.BlockReverted(blk)
		}
	}
}
