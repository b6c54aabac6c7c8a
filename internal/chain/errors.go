package chain

import "errors"

// Error taxonomy for candidate rejection. Submitters receive one of these
// wrapped around the specific cause.
var (
	// ErrMalformedBlock covers structural failures: bad height/parent
	// linkage, merkle mismatch, malformed fields. Fatal to the candidate,
	// never retried.
	ErrMalformedBlock = errors.New("malformed block")

	// ErrInvalidTransaction covers signature/nonce/balance failures of any
	// transaction in the candidate; the whole block is rejected.
	ErrInvalidTransaction = errors.New("invalid transaction in block")

	// ErrConsensusRuleViolation covers proposer ineligibility and
	// insufficient work/stake/burn/quorum. The round or proposer is
	// skipped; the chain continues.
	ErrConsensusRuleViolation = errors.New("consensus rule violation")

	// ErrForkUnresolved reports that competing tips remain pending. It is a
	// state, not a failure.
	ErrForkUnresolved = errors.New("fork unresolved")

	// ErrQuorumTimeout reports that a PBFT round aborted without quorum.
	// Rounds retry automatically up to the configured bound; persistent
	// timeouts surface as a liveness alarm.
	ErrQuorumTimeout = errors.New("quorum round timed out")
)

// Processing errors.
var (
	ErrBlockKnown            = errors.New("block already known")
	ErrPrevNotFound          = errors.New("previous block not found")
	ErrBadHeight             = errors.New("block height does not follow parent")
	ErrBadPrevHash           = errors.New("prev_hash does not match parent")
	ErrTimestampTooFuture    = errors.New("block timestamp too far in the future")
	ErrTimestampBeforeParent = errors.New("block timestamp before parent")
	ErrFinalityViolation     = errors.New("block conflicts with finalized chain")
	ErrContractFailed        = errors.New("contract execution failed")
	ErrNoActiveRound         = errors.New("no vote round in progress")
)
