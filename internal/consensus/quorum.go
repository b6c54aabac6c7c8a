package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Quorum tracker errors.
var (
	ErrRoundClosed   = errors.New("round is no longer collecting votes")
	ErrVoteMismatch  = errors.New("vote is for a different block or round")
	ErrDuplicateVote = errors.New("validator already voted in this phase")
	ErrUnknownVoter  = errors.New("vote from validator outside the known set")
	ErrBadVoteSig    = errors.New("invalid vote signature")
	ErrNotCommitted  = errors.New("round has not reached a commit quorum")
)

// QuorumState is the lifecycle of a single PBFT voting round.
type QuorumState int

const (
	// Collecting means the round is accumulating prepare/commit votes.
	Collecting QuorumState = iota
	// Committed means a commit quorum was reached; the round is final.
	Committed
	// Aborted means the round timed out or was cancelled before quorum.
	Aborted
)

// String returns the state name for logging.
func (s QuorumState) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// QuorumTracker accumulates votes for one block in one PBFT round. It is an
// explicit state machine, not a blocking loop: votes arrive via AddVote, the
// round resolves to Committed on quorum or Aborted on timeout, and Done
// unblocks waiters either way. A timeout aborts only this round; it never
// touches applied blocks.
type QuorumTracker struct {
	mu        sync.Mutex
	blockHash types.Hash
	round     uint64
	quorum    int
	vals      [][]byte

	prepares map[string]*block.Vote
	commits  map[string]*block.Vote
	state    QuorumState

	timer *time.Timer
	done  chan struct{}
}

// NewRound starts a vote-collection round for the given block. The round
// aborts automatically when timeout elapses before a commit quorum forms;
// a zero timeout disables the timer (tests drive the round manually).
func (p *PBFT) NewRound(blockHash types.Hash, round uint64, timeout time.Duration) *QuorumTracker {
	t := &QuorumTracker{
		blockHash: blockHash,
		round:     round,
		quorum:    p.Quorum(),
		vals:      p.validators,
		prepares:  make(map[string]*block.Vote),
		commits:   make(map[string]*block.Vote),
		done:      make(chan struct{}),
	}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, t.Abort)
	}
	return t
}

// State returns the round's current state.
func (t *QuorumTracker) State() QuorumState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done returns a channel closed when the round commits or aborts.
func (t *QuorumTracker) Done() <-chan struct{} {
	return t.done
}

// AddVote records a validator's vote. The vote must be for this block and
// round, from a known validator, correctly signed, and the first from that
// validator in its phase. When the commit set reaches quorum after a prepare
// quorum, the round transitions to Committed.
func (t *QuorumTracker) AddVote(v *block.Vote) (QuorumState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Collecting {
		return t.state, fmt.Errorf("%w: %s", ErrRoundClosed, t.state)
	}
	if v.BlockHash != t.blockHash || v.Round != t.round {
		return t.state, ErrVoteMismatch
	}
	if !containsKey(t.vals, v.Validator) {
		return t.state, ErrUnknownVoter
	}
	if !v.Verify() {
		return t.state, ErrBadVoteSig
	}

	var set map[string]*block.Vote
	switch v.Phase {
	case block.PhasePrepare:
		set = t.prepares
	case block.PhaseCommit:
		set = t.commits
	default:
		return t.state, fmt.Errorf("unknown vote phase %d", v.Phase)
	}

	key := string(v.Validator)
	if _, dup := set[key]; dup {
		return t.state, ErrDuplicateVote
	}
	set[key] = v

	if len(t.prepares) >= t.quorum && len(t.commits) >= t.quorum {
		t.state = Committed
		t.stopTimerLocked()
		close(t.done)
	}
	return t.state, nil
}

// Prepared reports whether the prepare quorum has been reached.
func (t *QuorumTracker) Prepared() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prepares) >= t.quorum
}

// Abort cancels the round if it is still collecting. Safe to call more than
// once and after commit.
func (t *QuorumTracker) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Collecting {
		return
	}
	t.state = Aborted
	t.stopTimerLocked()
	close(t.done)
}

// Cert builds the quorum certificate from the collected commit votes. Only
// valid once the round has committed.
func (t *QuorumTracker) Cert() (*block.QuorumCert, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Committed {
		return nil, fmt.Errorf("%w: %s", ErrNotCommitted, t.state)
	}
	commits := make([]*block.Vote, 0, len(t.commits))
	for _, v := range t.commits {
		commits = append(commits, v)
	}
	return &block.QuorumCert{
		BlockHash: t.blockHash,
		Round:     t.round,
		Commits:   commits,
	}, nil
}

func (t *QuorumTracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
