package ledger

import (
	"errors"
	"testing"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

type account struct {
	key  *crypto.PrivateKey
	addr types.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return account{key: key, addr: crypto.AddressFromPubKey(key.PublicKey())}
}

func transfer(t *testing.T, from account, to types.Address, amount, nonce uint64) *tx.Transaction {
	t.Helper()
	tr := &tx.Transaction{
		Version: tx.CurrentVersion,
		From:    from.addr,
		To:      to,
		Amount:  amount,
		Nonce:   nonce,
	}
	if err := tr.Sign(from.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tr
}

func TestValidateBlockTxsOK(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	txs := []*tx.Transaction{
		transfer(t, alice, bob.addr, 40, 0),
		transfer(t, alice, bob.addr, 60, 1), // spends the rest
	}
	if err := ValidateBlockTxs(txs, view); err != nil {
		t.Fatalf("validate: %v", err)
	}
	// The view itself must stay untouched.
	if got := view.BalanceOf(alice.addr); got != 100 {
		t.Fatalf("validation mutated view: balance %d", got)
	}
	if got := view.NonceOf(alice.addr); got != 0 {
		t.Fatalf("validation mutated view: nonce %d", got)
	}
}

func TestValidateBlockTxsDuplicateNonce(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	carol := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	txs := []*tx.Transaction{
		transfer(t, alice, bob.addr, 10, 0),
		transfer(t, alice, carol.addr, 10, 0),
	}
	err := ValidateBlockTxs(txs, view)
	if !errors.Is(err, ErrDuplicateNonce) {
		t.Fatalf("err = %v, want ErrDuplicateNonce", err)
	}
}

func TestValidateBlockTxsNonceGap(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	txs := []*tx.Transaction{
		transfer(t, alice, bob.addr, 10, 0),
		transfer(t, alice, bob.addr, 10, 2), // skips nonce 1
	}
	err := ValidateBlockTxs(txs, view)
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("err = %v, want ErrNonceMismatch", err)
	}
}

func TestValidateBlockTxsStaleNonce(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})
	view.BumpNonce(alice.addr) // next expected nonce is 1

	txs := []*tx.Transaction{transfer(t, alice, bob.addr, 10, 0)}
	if err := ValidateBlockTxs(txs, view); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("err = %v, want ErrNonceMismatch", err)
	}
}

func TestValidateBlockTxsOverspendWithinBlock(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	// Individually affordable, but the second spends money the first used up.
	txs := []*tx.Transaction{
		transfer(t, alice, bob.addr, 80, 0),
		transfer(t, alice, bob.addr, 30, 1),
	}
	err := ValidateBlockTxs(txs, view)
	if !errors.Is(err, ErrBalanceTooLow) {
		t.Fatalf("err = %v, want ErrBalanceTooLow", err)
	}
}

func TestValidateBlockTxsIntraBlockFunding(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	carol := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	// Bob starts empty but is funded by the first transaction.
	txs := []*tx.Transaction{
		transfer(t, alice, bob.addr, 50, 0),
		transfer(t, bob, carol.addr, 50, 0),
	}
	if err := ValidateBlockTxs(txs, view); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateBlockTxsTamperedSignature(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	view := NewViewWithAlloc(map[types.Address]uint64{alice.addr: 100})

	tr := transfer(t, alice, bob.addr, 10, 0)
	tr.Amount = 99 // invalidates the signature

	err := ValidateBlockTxs([]*tx.Transaction{tr}, view)
	if !errors.Is(err, ErrSignatureFailed) {
		t.Fatalf("err = %v, want ErrSignatureFailed", err)
	}
}
