package tx

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Structural validation errors.
var (
	ErrZeroSender      = errors.New("transaction has zero sender address")
	ErrZeroRecipient   = errors.New("transaction has zero recipient address")
	ErrMissingPubKey   = errors.New("transaction missing sender public key")
	ErrMissingSig      = errors.New("transaction missing signature")
	ErrBadSignature    = errors.New("transaction signature invalid")
	ErrPayloadTooLarge = errors.New("transaction payload too large")
	ErrBadVersion      = errors.New("unsupported transaction version")
)

// CurrentVersion is the transaction version produced by this software.
const CurrentVersion = 1

// Validate checks structural well-formedness and the signature.
// Ledger-dependent rules (nonce sequence, balance) are checked by the
// chain's transaction validator against a ledger view.
func (t *Transaction) Validate() error {
	if t.Version < 1 || t.Version > CurrentVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, t.Version, CurrentVersion)
	}
	if t.From.IsZero() {
		return ErrZeroSender
	}
	if t.To.IsZero() {
		return ErrZeroRecipient
	}
	if len(t.Payload) > config.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(t.Payload), config.MaxPayloadSize)
	}
	if len(t.SenderPubKey) != types.PubKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMissingPubKey, len(t.SenderPubKey), types.PubKeySize)
	}
	if len(t.Signature) == 0 {
		return ErrMissingSig
	}
	if !t.VerifySignature() {
		return ErrBadSignature
	}
	return nil
}
