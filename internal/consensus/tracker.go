package consensus

import (
	"encoding/hex"
	"sync"
	"time"
)

// ProposerStats holds in-memory reputation statistics for a single proposer.
// Stats reset on node restart (no persistence) and carry no consensus
// weight: removal of a misbehaving proposer is an operator decision taken at
// an epoch boundary, not something this tracker enforces.
type ProposerStats struct {
	PubKey       []byte    // 33-byte compressed public key
	LastProposal time.Time // zero if never proposed
	Accepted     uint64    // proposals that became canonical
	Invalid      uint64    // proposals rejected by consensus rules
	Missed       uint64    // rounds where this proposer was scheduled but silent
}

// ProposerTracker tracks proposer behavior for the scheduled variants
// (PoS/DPoS/PoA): accepted blocks, invalid proposals, missed rounds.
type ProposerTracker struct {
	mu    sync.RWMutex
	stats map[string]*ProposerStats // hex(pubkey) -> stats
}

// NewProposerTracker creates an empty tracker.
func NewProposerTracker() *ProposerTracker {
	return &ProposerTracker{stats: make(map[string]*ProposerStats)}
}

// RecordAccepted records that a proposer's block became canonical.
func (t *ProposerTracker) RecordAccepted(pubKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(pubKey)
	s.LastProposal = time.Now()
	s.Accepted++
}

// RecordInvalid records a proposal rejected by consensus rules.
func (t *ProposerTracker) RecordInvalid(pubKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreate(pubKey)
	s.LastProposal = time.Now()
	s.Invalid++
}

// RecordMiss records that a scheduled proposer did not produce in time.
func (t *ProposerTracker) RecordMiss(pubKey []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.getOrCreate(pubKey).Missed++
}

// Stats returns a copy of a proposer's stats, or nil if never seen.
func (t *ProposerTracker) Stats(pubKey []byte) *ProposerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[hex.EncodeToString(pubKey)]
	if !ok {
		return nil
	}
	cp := *s
	cp.PubKey = make([]byte, len(s.PubKey))
	copy(cp.PubKey, s.PubKey)
	return &cp
}

// AllStats returns copies of every tracked proposer's stats.
func (t *ProposerTracker) AllStats() []*ProposerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*ProposerStats, 0, len(t.stats))
	for _, s := range t.stats {
		cp := *s
		cp.PubKey = make([]byte, len(s.PubKey))
		copy(cp.PubKey, s.PubKey)
		out = append(out, &cp)
	}
	return out
}

func (t *ProposerTracker) getOrCreate(pubKey []byte) *ProposerStats {
	key := hex.EncodeToString(pubKey)
	s, ok := t.stats[key]
	if !ok {
		pk := make([]byte, len(pubKey))
		copy(pk, pubKey)
		s = &ProposerStats{PubKey: pk}
		t.stats[key] = s
	}
	return s
}
