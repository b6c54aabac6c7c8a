// Package block defines block types and structural validation.
package block

import (
	"github.com/zzzizo/cig-chain/pkg/tx"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Block is an immutable record of a set of transactions at a height.
// Cert is populated only under PBFT, where acceptance requires a quorum
// certificate instead of a single proposer signature.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	Cert         *QuorumCert       `json:"cert,omitempty"`
}

// New creates a block with the given header and transactions.
func New(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header digest. The quorum certificate is excluded:
// it is a proof about the block, gathered after the header is fixed.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// TxHashes returns the digests of the block's transactions in inclusion order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}
