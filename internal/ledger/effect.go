package ledger

import "github.com/zzzizo/cig-chain/pkg/types"

// Delta is a single balance adjustment produced by contract execution.
type Delta struct {
	Addr   types.Address `json:"addr"`
	Amount uint64        `json:"amount"`
	Debit  bool          `json:"debit"`
}

// Effect is the state-transition result of a contract call, keyed by the
// transaction that carried the payload. The core records the effect; it does
// not interpret contract semantics.
type Effect struct {
	TxHash types.Hash `json:"tx_hash"`
	Deltas []Delta    `json:"deltas"`
}

// ApplyTx applies a validated transaction's transfer and nonce effects.
func (v *View) ApplyTx(from, to types.Address, amount uint64) error {
	if err := v.Debit(from, amount); err != nil {
		return err
	}
	if err := v.Credit(to, amount); err != nil {
		return err
	}
	v.BumpNonce(from)
	return nil
}

// ApplyEffect folds a contract effect into the view, in delta order.
func (v *View) ApplyEffect(e *Effect) error {
	for _, d := range e.Deltas {
		if d.Debit {
			if err := v.Debit(d.Addr, d.Amount); err != nil {
				return err
			}
		} else {
			if err := v.Credit(d.Addr, d.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}
