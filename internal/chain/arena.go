package chain

import (
	"sync"

	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// arenaEntry is a candidate block competing for the canonical chain, plus
// the local observation order used for fork-choice tie-breaking.
type arenaEntry struct {
	blk  *block.Block
	seen uint64
}

// forkArena holds competing candidate blocks indexed by digest. Entries
// survive until pruned after finalization or reorg, so fork choice can walk
// branches that are not on the canonical chain.
type forkArena struct {
	mu      sync.RWMutex
	entries map[types.Hash]*arenaEntry
	counter uint64
}

func newForkArena() *forkArena {
	return &forkArena{entries: make(map[types.Hash]*arenaEntry)}
}

// observe records a block if it is not already tracked and returns its
// observation sequence number. Re-observing a known block returns the
// original sequence number.
func (a *forkArena) observe(blk *block.Block) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash := blk.Hash()
	if e, ok := a.entries[hash]; ok {
		return e.seen
	}
	a.counter++
	a.entries[hash] = &arenaEntry{blk: blk, seen: a.counter}
	return a.counter
}

func (a *forkArena) get(hash types.Hash) (*block.Block, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[hash]
	if !ok {
		return nil, false
	}
	return e.blk, true
}

func (a *forkArena) has(hash types.Hash) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[hash]
	return ok
}

// seenAt returns the observation sequence for a block hash, or ^uint64(0)
// if the hash was never observed.
func (a *forkArena) seenAt(hash types.Hash) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if e, ok := a.entries[hash]; ok {
		return e.seen
	}
	return ^uint64(0)
}

// tips returns every tracked block that no other tracked block builds on.
func (a *forkArena) tips() []*block.Block {
	a.mu.RLock()
	defer a.mu.RUnlock()

	hasChild := make(map[types.Hash]bool, len(a.entries))
	for _, e := range a.entries {
		hasChild[e.blk.Header.PrevHash] = true
	}

	var out []*block.Block
	for hash, e := range a.entries {
		if !hasChild[hash] {
			out = append(out, e.blk)
		}
	}
	return out
}

// pruneBelow drops every entry at or below the given height. Called after
// finalization: blocks that lost to a finalized ancestor can never rejoin
// the chain.
func (a *forkArena) pruneBelow(height uint64) []*block.Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pruned []*block.Block
	for hash, e := range a.entries {
		if e.blk.Header.Height <= height {
			pruned = append(pruned, e.blk)
			delete(a.entries, hash)
		}
	}
	return pruned
}

// removeSubtree drops a block and everything tracked that descends from it.
// Used when a branch fails replay validation: its descendants can never be
// applied either.
func (a *forkArena) removeSubtree(root types.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()

	doomed := map[types.Hash]bool{root: true}
	for {
		grew := false
		for hash, e := range a.entries {
			if !doomed[hash] && doomed[e.blk.Header.PrevHash] {
				doomed[hash] = true
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	for hash := range doomed {
		delete(a.entries, hash)
	}
}
