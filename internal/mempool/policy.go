package mempool

import (
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/tx"
)

// DefaultMaxTxSize is the maximum transaction size in bytes (signing bytes).
const DefaultMaxTxSize = 100_000

// Policy defines node-local transaction acceptance rules, checked before
// the consensus-critical validation.
type Policy struct {
	MaxTxSize     int  // Maximum transaction size in signing bytes.
	RejectPayload bool // Refuse contract payloads entirely (relay-only nodes).
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxSize: DefaultMaxTxSize,
	}
}

// Check validates a transaction against policy rules. Consensus limits are
// enforced here too, so oversized transactions are rejected before the
// signature check.
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SigningBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(transaction.Payload) > config.MaxPayloadSize {
		return fmt.Errorf("payload too large: %d bytes, max %d", len(transaction.Payload), config.MaxPayloadSize)
	}
	if p.RejectPayload && transaction.HasPayload() {
		return fmt.Errorf("contract payloads not accepted by this node")
	}
	return nil
}
