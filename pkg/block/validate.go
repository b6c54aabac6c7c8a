package block

import (
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
	"github.com/zzzizo/cig-chain/pkg/merkle"
)

// Structural validation errors.
var (
	ErrNilHeader      = errors.New("block has nil header")
	ErrBadVersion     = errors.New("unsupported block version")
	ErrZeroTimestamp  = errors.New("block timestamp is zero")
	ErrBadMerkleRoot  = errors.New("merkle root mismatch")
	ErrTooManyTxs     = errors.New("too many transactions in block")
	ErrBlockTooLarge  = errors.New("block too large")
	ErrGenesisShape   = errors.New("genesis block malformed")
	ErrBadProposerSig = errors.New("proposer signature invalid")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// Validate checks block structure and internal consistency: version,
// timestamp, size limits, merkle root, per-transaction structure, and the
// proposer signature when one is present. It does NOT verify consensus rules
// (the consensus engine does that) or ledger-dependent transaction rules
// (nonce sequences and balances are checked against a ledger view).
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	// Genesis shape: height 0, zero parent, no proposer required.
	if b.Header.Height == 0 {
		if !b.Header.PrevHash.IsZero() {
			return fmt.Errorf("%w: non-zero prev_hash", ErrGenesisShape)
		}
		if len(b.Transactions) != 0 {
			return fmt.Errorf("%w: genesis carries transactions", ErrGenesisShape)
		}
	}

	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d txs, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	// Total block size (header signing bytes + all tx signing bytes).
	blockSize := len(b.Header.SigningBytes())
	for _, t := range b.Transactions {
		blockSize += len(t.SigningBytes())
	}
	if blockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, config.MaxBlockSize)
	}

	// Merkle root over tx digests in inclusion order; empty-tree sentinel
	// for blocks without transactions.
	expectedRoot := merkle.Root(b.TxHashes())
	if b.Header.MerkleRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadMerkleRoot, b.Header.MerkleRoot, expectedRoot)
	}

	// Each transaction must be structurally valid and correctly signed.
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// A present proposer signature must verify. Whether one is required at
	// all is a consensus rule (PoW blocks are unsigned).
	if len(b.Header.ProposerSig) > 0 && !b.Header.VerifyProposerSig() {
		return ErrBadProposerSig
	}

	return nil
}
