// Package ledger maintains the balance/nonce view derived from the canonical
// chain. Views are plain values: the chain state machine owns the canonical
// view and mutates it only inside atomic block application; everything else
// works on snapshots.
package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/zzzizo/cig-chain/pkg/types"
)

// Account is the ledger entry for a single identity.
type Account struct {
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"` // next expected transaction nonce
}

// View maps identities to accounts. The zero value is not usable; use NewView.
type View struct {
	accounts map[types.Address]Account
}

// Mutation errors.
var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// NewView creates an empty ledger view.
func NewView() *View {
	return &View{accounts: make(map[types.Address]Account)}
}

// NewViewWithAlloc creates a view pre-funded with the given allocations.
func NewViewWithAlloc(alloc map[types.Address]uint64) *View {
	v := NewView()
	for addr, bal := range alloc {
		v.accounts[addr] = Account{Balance: bal}
	}
	return v
}

// Clone returns a deep copy. Snapshots handed to validators and the contract
// engine are clones so no caller can observe a partially applied block.
func (v *View) Clone() *View {
	cp := &View{accounts: make(map[types.Address]Account, len(v.accounts))}
	for addr, acct := range v.accounts {
		cp.accounts[addr] = acct
	}
	return cp
}

// AccountOf returns the account state of an identity. Unknown identities
// read as the zero account.
func (v *View) AccountOf(addr types.Address) Account {
	return v.accounts[addr]
}

// SetAccount overwrites an identity's account state. Used to restore prior
// states when a block is reverted.
func (v *View) SetAccount(addr types.Address, acct Account) {
	if acct == (Account{}) {
		delete(v.accounts, addr)
		return
	}
	v.accounts[addr] = acct
}

// BalanceOf returns the balance of an identity (zero if unknown).
func (v *View) BalanceOf(addr types.Address) uint64 {
	return v.accounts[addr].Balance
}

// NonceOf returns the next expected nonce for an identity (zero if unknown).
func (v *View) NonceOf(addr types.Address) uint64 {
	return v.accounts[addr].Nonce
}

// Len returns the number of known accounts.
func (v *View) Len() int {
	return len(v.accounts)
}

// Credit adds to an identity's balance.
func (v *View) Credit(addr types.Address, amount uint64) error {
	acct := v.accounts[addr]
	if acct.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, addr)
	}
	acct.Balance += amount
	v.accounts[addr] = acct
	return nil
}

// Debit removes from an identity's balance.
func (v *View) Debit(addr types.Address, amount uint64) error {
	acct := v.accounts[addr]
	if acct.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, addr, acct.Balance, amount)
	}
	acct.Balance -= amount
	v.accounts[addr] = acct
	return nil
}

// BumpNonce advances an identity's next expected nonce by one.
func (v *View) BumpNonce(addr types.Address) {
	acct := v.accounts[addr]
	acct.Nonce++
	v.accounts[addr] = acct
}
