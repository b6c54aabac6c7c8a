package ledger

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Transaction validation errors. Any of these rejects the whole containing
// block: partial inclusion would break the atomicity of block application.
var (
	ErrNonceMismatch   = errors.New("transaction nonce out of sequence")
	ErrDuplicateNonce  = errors.New("duplicate (sender, nonce) pair in block")
	ErrBalanceTooLow   = errors.New("sender balance insufficient")
	ErrSignatureFailed = errors.New("transaction signature check failed")
)

// ValidateBlockTxs checks every transaction in a candidate block against the
// ledger view as of the parent block. The view is not mutated: balance and
// nonce effects of earlier transactions in the same block are tracked in
// scratch maps so intra-block spends and nonce sequences validate correctly.
//
// Checks, in order, per transaction:
//  1. signature over the canonical encoding against the sender's public key
//  2. nonce equals the sender's next expected nonce (ledger view plus earlier
//     same-sender transactions in this block)
//  3. sender balance (view plus earlier in-block effects) covers the amount
//  4. no two transactions share a (sender, nonce) pair
func ValidateBlockTxs(txs []*tx.Transaction, view *View) error {
	type pair struct {
		addr  types.Address
		nonce uint64
	}
	seen := make(map[pair]int, len(txs))
	nonces := make(map[types.Address]uint64)
	balances := make(map[types.Address]uint64)

	nextNonce := func(addr types.Address) uint64 {
		if n, ok := nonces[addr]; ok {
			return n
		}
		return view.NonceOf(addr)
	}
	balanceOf := func(addr types.Address) uint64 {
		if b, ok := balances[addr]; ok {
			return b
		}
		return view.BalanceOf(addr)
	}

	for i, t := range txs {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		if !t.VerifySignature() {
			return fmt.Errorf("tx %d: %w", i, ErrSignatureFailed)
		}

		key := pair{t.From, t.Nonce}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("tx %d: %w: also used by tx %d", i, ErrDuplicateNonce, prev)
		}
		seen[key] = i

		if want := nextNonce(t.From); t.Nonce != want {
			return fmt.Errorf("tx %d: %w: got %d, want %d", i, ErrNonceMismatch, t.Nonce, want)
		}

		if have := balanceOf(t.From); have < t.Amount {
			return fmt.Errorf("tx %d: %w: balance %d, amount %d", i, ErrBalanceTooLow, have, t.Amount)
		}

		// Record this transaction's effects for later txs in the block.
		nonces[t.From] = nextNonce(t.From) + 1
		balances[t.From] = balanceOf(t.From) - t.Amount
		balances[t.To] = balanceOf(t.To) + t.Amount
	}

	return nil
}
