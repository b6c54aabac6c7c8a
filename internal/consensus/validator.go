package consensus

import (
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/block"
)

// Validator combines structural block validation with the active engine's
// consensus rules. A structural failure short-circuits so engines never see
// malformed input.
type Validator struct {
	engine Engine
}

// NewValidator creates a block validator with the given consensus engine.
func NewValidator(engine Engine) *Validator {
	return &Validator{engine: engine}
}

// ValidateBlock checks a block against structural rules, then against the
// consensus engine's proposal rules.
func (v *Validator) ValidateBlock(blk *block.Block, view View) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	if err := v.engine.ValidateProposal(blk, view); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
