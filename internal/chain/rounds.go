package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zzzizo/cig-chain/internal/consensus"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Vote-round errors.
var (
	ErrVotingUnsupported = errors.New("mechanism has no vote rounds")
	ErrRoundInProgress   = errors.New("vote round already in progress")
)

// roundManager drives PBFT vote collection for one candidate at a time:
// open a round, feed it votes, and on commit attach the certificate and
// submit the block. An aborted round records a miss against the primary;
// after MaxRoundRetries consecutive aborts it raises a liveness alarm in
// the log. Proposing a replacement block for the next round is the
// proposer layer's job, not the chain's.
type roundManager struct {
	mu        sync.Mutex
	c         *Chain
	pbft      *consensus.PBFT
	tracker   *consensus.QuorumTracker
	candidate *block.Block
	aborts    int
}

func newRoundManager(c *Chain) *roundManager {
	rm := &roundManager{c: c}
	if p, ok := c.engine.(*consensus.PBFT); ok {
		rm.pbft = p
	}
	return rm
}

// OpenRound starts vote collection for a candidate block. The round number
// comes from the candidate's header; the timeout from configuration.
func (c *Chain) OpenRound(blk *block.Block) error {
	return c.rounds.open(blk)
}

// SubmitVote routes a validator's vote into the active round.
func (c *Chain) SubmitVote(v *block.Vote) (consensus.QuorumState, error) {
	return c.rounds.addVote(v)
}

// ActiveRound reports the candidate and state of the round in progress.
func (c *Chain) ActiveRound() (types.Hash, uint64, consensus.QuorumState, bool) {
	return c.rounds.active()
}

func (rm *roundManager) open(blk *block.Block) error {
	if rm.pbft == nil {
		return fmt.Errorf("%w: %s", ErrVotingUnsupported, rm.c.engine.Mechanism())
	}
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("%w: nil candidate", ErrMalformedBlock)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.tracker != nil && rm.tracker.State() == consensus.Collecting {
		return ErrRoundInProgress
	}

	timeout := time.Duration(rm.c.cfg.Consensus.RoundTimeoutMS) * time.Millisecond
	t := rm.pbft.NewRound(blk.Hash(), blk.Header.Round, timeout)
	rm.tracker = t
	rm.candidate = blk

	rm.c.logger.Info().
		Str("hash", blk.Hash().String()).
		Uint64("round", blk.Header.Round).
		Dur("timeout", timeout).
		Msg("vote round opened")

	go rm.watch(t, blk)
	return nil
}

func (rm *roundManager) addVote(v *block.Vote) (consensus.QuorumState, error) {
	rm.mu.Lock()
	t := rm.tracker
	rm.mu.Unlock()

	if t == nil {
		return consensus.Collecting, ErrNoActiveRound
	}
	return t.AddVote(v)
}

func (rm *roundManager) active() (types.Hash, uint64, consensus.QuorumState, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.tracker == nil || rm.candidate == nil {
		return types.Hash{}, 0, consensus.Collecting, false
	}
	return rm.candidate.Hash(), rm.candidate.Header.Round, rm.tracker.State(), true
}

// watch waits for the round to resolve and finishes the commit path.
func (rm *roundManager) watch(t *consensus.QuorumTracker, blk *block.Block) {
	<-t.Done()

	switch t.State() {
	case consensus.Committed:
		rm.mu.Lock()
		rm.aborts = 0
		rm.mu.Unlock()

		cert, err := t.Cert()
		if err != nil {
			rm.c.logger.Error().Err(err).Msg("certificate build failed after commit")
			return
		}
		blk.Cert = cert
		if err := rm.c.SubmitCandidate(blk); err != nil {
			rm.c.logger.Error().
				Err(err).
				Str("hash", blk.Hash().String()).
				Msg("committed block rejected by chain")
		}

	case consensus.Aborted:
		primary := rm.pbft.Primary(blk.Header.Round)
		rm.c.tracker.RecordMiss(primary)

		rm.mu.Lock()
		rm.aborts++
		aborts := rm.aborts
		rm.mu.Unlock()

		ev := rm.c.logger.Warn()
		retries := rm.c.cfg.Consensus.MaxRoundRetries
		if retries > 0 && aborts >= retries {
			// Consecutive aborts exhausted the retry budget: the
			// validator set cannot make progress.
			ev = rm.c.logger.Error().Str("alarm", "liveness")
		}
		ev.
			Str("hash", blk.Hash().String()).
			Uint64("round", blk.Header.Round).
			Int("consecutive_aborts", aborts).
			Err(ErrQuorumTimeout).
			Msg("vote round aborted")
	}
}
