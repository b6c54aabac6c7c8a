// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrStaleNonce    = errors.New("transaction nonce already used")
	ErrOverspend     = errors.New("pending transactions exceed sender balance")
)

// StateReader provides canonical account state for admission checks.
type StateReader interface {
	BalanceOf(addr types.Address) uint64
	NonceOf(addr types.Address) uint64
}

// entry wraps a transaction with its admission metadata.
type entry struct {
	tx     *tx.Transaction
	txHash types.Hash
	seq    uint64 // insertion order, used for eviction tie-breaks
}

// nonceKey identifies a (sender, nonce) slot. At most one pending
// transaction may occupy a slot.
type nonceKey struct {
	sender types.Address
	nonce  uint64
}

// Pool holds unconfirmed transactions. Conflicts are tracked per
// (sender, nonce) slot; a sender's pending transfers may not overspend the
// canonical balance.
type Pool struct {
	mu      sync.RWMutex
	txs     map[types.Hash]*entry
	slots   map[nonceKey]types.Hash       // (sender, nonce) -> txHash
	pending map[types.Address]uint64      // sender -> sum of pending amounts
	maxSize int
	seq     uint64
	state   StateReader
	policy  *Policy
}

// New creates a mempool reading account state from the given source.
func New(state StateReader, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:     make(map[types.Hash]*entry),
		slots:   make(map[nonceKey]types.Hash),
		pending: make(map[types.Address]uint64),
		maxSize: maxSize,
		state:   state,
		policy:  DefaultPolicy(),
	}
}

// SetPolicy replaces the node-local acceptance policy.
func (p *Pool) SetPolicy(policy *Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
}

// Add validates and admits a transaction. Rejects duplicates, occupied
// (sender, nonce) slots, stale nonces, and pending overspends.
func (p *Pool) Add(transaction *tx.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.policy.Check(transaction); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := transaction.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	txHash := transaction.Hash()
	if _, exists := p.txs[txHash]; exists {
		return ErrAlreadyExists
	}

	slot := nonceKey{sender: transaction.From, nonce: transaction.Nonce}
	if conflictHash, exists := p.slots[slot]; exists {
		return fmt.Errorf("%w: nonce %d of %s already pending in %s",
			ErrConflict, transaction.Nonce, transaction.From, conflictHash)
	}

	accountNonce := p.state.NonceOf(transaction.From)
	if transaction.Nonce < accountNonce {
		return fmt.Errorf("%w: got %d, account at %d", ErrStaleNonce, transaction.Nonce, accountNonce)
	}

	balance := p.state.BalanceOf(transaction.From)
	spent := p.pending[transaction.From]
	if transaction.Amount > balance || spent > balance-transaction.Amount {
		return fmt.Errorf("%w: balance %d, pending %d, amount %d",
			ErrOverspend, balance, spent, transaction.Amount)
	}

	if len(p.txs) >= p.maxSize {
		victim, dist, ok := p.worstEntryLocked()
		if !ok || p.distanceLocked(transaction) >= dist {
			return ErrPoolFull
		}
		p.removeLocked(victim)
	}

	p.seq++
	p.txs[txHash] = &entry{tx: transaction, txHash: txHash, seq: p.seq}
	p.slots[slot] = txHash
	p.pending[transaction.From] = spent + transaction.Amount
	return nil
}

// Remove removes a transaction by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	delete(p.slots, nonceKey{sender: e.tx.From, nonce: e.tx.Nonce})
	if spent := p.pending[e.tx.From]; spent <= e.tx.Amount {
		delete(p.pending, e.tx.From)
	} else {
		p.pending[e.tx.From] = spent - e.tx.Amount
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes transactions that were included in a block, then
// drops any entries whose nonce the block made stale.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
	p.pruneStaleLocked()
}

// Reinsert re-admits transactions knocked out of the chain by a reorg.
// Entries that no longer validate (stale nonce, overspend) are dropped
// silently; the rest compete like fresh submissions.
func (p *Pool) Reinsert(transactions []*tx.Transaction) int {
	added := 0
	for _, t := range transactions {
		if err := p.Add(t); err == nil {
			added++
		}
	}
	return added
}

// pruneStaleLocked drops entries whose nonce is below the sender's current
// account nonce. They can never be included again.
func (p *Pool) pruneStaleLocked() {
	var stale []types.Hash
	for h, e := range p.txs {
		if e.tx.Nonce < p.state.NonceOf(e.tx.From) {
			stale = append(stale, h)
		}
	}
	for _, h := range stale {
		p.removeLocked(h)
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Hashes returns the hashes of all pending transactions.
func (p *Pool) Hashes() []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hashes := make([]types.Hash, 0, len(p.txs))
	for h := range p.txs {
		hashes = append(hashes, h)
	}
	return hashes
}

// SelectForBlock returns up to limit transactions forming a valid inclusion
// sequence: per sender, consecutive nonces starting at the account nonce,
// within the sender's balance. Senders are ordered by address so every node
// builds the same sequence from the same pool.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	bySender := make(map[types.Address][]*entry)
	for _, e := range p.txs {
		bySender[e.tx.From] = append(bySender[e.tx.From], e)
	}

	senders := make([]types.Address, 0, len(bySender))
	for addr := range bySender {
		senders = append(senders, addr)
	}
	sort.Slice(senders, func(i, j int) bool {
		return senders[i].String() < senders[j].String()
	})

	var result []*tx.Transaction
	for _, addr := range senders {
		entries := bySender[addr]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].tx.Nonce < entries[j].tx.Nonce
		})

		next := p.state.NonceOf(addr)
		budget := p.state.BalanceOf(addr)
		for _, e := range entries {
			if len(result) >= limit {
				return result
			}
			if e.tx.Nonce != next || e.tx.Amount > budget {
				break // gap or overspend ends this sender's run
			}
			result = append(result, e.tx)
			next++
			budget -= e.tx.Amount
		}
	}
	return result
}

// distanceLocked is how far a transaction's nonce is from being includable.
// Entries far ahead of their account nonce are the least useful and the
// first evicted.
func (p *Pool) distanceLocked(t *tx.Transaction) uint64 {
	accountNonce := p.state.NonceOf(t.From)
	if t.Nonce <= accountNonce {
		return 0
	}
	return t.Nonce - accountNonce
}

// worstEntryLocked returns the eviction candidate: greatest nonce distance,
// newest insertion breaking ties.
func (p *Pool) worstEntryLocked() (types.Hash, uint64, bool) {
	var (
		worstHash types.Hash
		worstDist uint64
		worstSeq  uint64
		found     bool
	)
	for h, e := range p.txs {
		d := p.distanceLocked(e.tx)
		if !found || d > worstDist || (d == worstDist && e.seq > worstSeq) {
			worstHash, worstDist, worstSeq, found = h, d, e.seq, true
		}
	}
	return worstHash, worstDist, found
}
