package chain

import (
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/types"
)

// Status is the chain state machine's position.
type Status int

const (
	// StatusGenesis means no blocks have been applied yet.
	StatusGenesis Status = iota
	// StatusExtending means a single canonical tip with no pending forks.
	StatusExtending
	// StatusForked means two or more competing tips await resolution.
	StatusForked
	// StatusFinalized marks instant-finality chains: every applied block is
	// final and forks never enter this state.
	StatusFinalized
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusGenesis:
		return "genesis"
	case StatusExtending:
		return "extending"
	case StatusForked:
		return "forked"
	case StatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// State holds the current chain tip state.
type State struct {
	Status       Status
	Height       uint64
	TipHash      types.Hash
	TipTimestamp uint64
	// FinalHeight is the highest height guaranteed never to revert. Under
	// instant finality it tracks the tip; otherwise it trails by the
	// finality depth.
	FinalHeight uint64
}

// IsGenesis returns true if the tip is still the genesis block.
func (s *State) IsGenesis() bool {
	return s.Height == 0
}
