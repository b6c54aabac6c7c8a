package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/zzzizo/cig-chain/internal/ledger"
	"github.com/zzzizo/cig-chain/internal/storage"
	"github.com/zzzizo/cig-chain/pkg/block"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx     = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)
	prefixUndo   = []byte("d/") // d/<hash(32)> -> undo data JSON

	keyTipHash     = []byte("s/tip")
	keyHeight      = []byte("s/height")
	keyFinalHeight = []byte("s/final")
)

// UndoData stores what is needed to revert a block's ledger effects: the
// account states, as of the parent block, of every identity the block
// touched.
type UndoData struct {
	Accounts map[string]ledger.Account `json:"accounts"` // hex(address) -> prior state
	TxHashes []types.Hash              `json:"tx_hashes"`
}

// BlockStore persists blocks, ledger undo data, and chain metadata to a
// storage.DB. The core never assumes a layout beyond this key schema.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// StoreBlock stores a block by hash only, without height or tx indexes.
// Used for fork-arena blocks that are not (yet) canonical.
func (bs *BlockStore) StoreBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	if err := bs.db.Put(blockKey(blk.Hash()), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	return nil
}

// PutBlock stores a block and indexes it by hash, height, and tx hashes.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	if err := bs.StoreBlock(blk); err != nil {
		return err
	}

	hash := blk.Hash()
	if err := bs.db.Put(heightKey(blk.Header.Height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}

	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}
	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves the canonical block at a height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// CanonicalHash returns the canonical block hash at a height, if indexed.
func (bs *BlockStore) CanonicalHash(height uint64) (types.Hash, bool) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil || len(hashBytes) != types.HashSize {
		return types.Hash{}, false
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, true
}

// DeleteHeightIndex removes the canonical index entry for a height.
func (bs *BlockStore) DeleteHeightIndex(height uint64) error {
	return bs.db.Delete(heightKey(height))
}

// SetTip stores the current chain tip hash and height.
func (bs *BlockStore) SetTip(hash types.Hash, height uint64) error {
	if err := bs.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	if err := bs.db.Put(keyHeight, buf[:]); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	return nil
}

// GetTip returns the stored chain tip hash and height. Zero values mean a
// fresh chain.
func (bs *BlockStore) GetTip() (types.Hash, uint64, error) {
	hashBytes, err := bs.db.Get(keyTipHash)
	if err != nil {
		return types.Hash{}, 0, nil // no tip yet
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}

	heightBytes, err := bs.db.Get(keyHeight)
	if err != nil {
		return types.Hash{}, 0, fmt.Errorf("tip height missing: %w", err)
	}
	if len(heightBytes) != 8 {
		return types.Hash{}, 0, fmt.Errorf("corrupt tip height: got %d bytes", len(heightBytes))
	}

	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, binary.BigEndian.Uint64(heightBytes), nil
}

// SetFinalHeight persists the highest finalized height.
func (bs *BlockStore) SetFinalHeight(height uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return bs.db.Put(keyFinalHeight, buf[:])
}

// GetFinalHeight returns the highest finalized height (0 if unset).
func (bs *BlockStore) GetFinalHeight() uint64 {
	data, err := bs.db.Get(keyFinalHeight)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// GetTxLocation returns the height and block hash containing a transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 8+types.HashSize)
	}
	height := binary.BigEndian.Uint64(data[:8])
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return height, blockHash, nil
}

// DeleteTxIndex removes the transaction index entry for the given hash.
func (bs *BlockStore) DeleteTxIndex(txHash types.Hash) error {
	return bs.db.Delete(txKey(txHash))
}

// PutUndo stores ledger undo data for a block.
func (bs *BlockStore) PutUndo(hash types.Hash, undo *UndoData) error {
	data, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}
	if err := bs.db.Put(undoKey(hash), data); err != nil {
		return fmt.Errorf("put undo: %w", err)
	}
	return nil
}

// GetUndo retrieves ledger undo data for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) (*UndoData, error) {
	data, err := bs.db.Get(undoKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get undo: %w", err)
	}
	var undo UndoData
	if err := json.Unmarshal(data, &undo); err != nil {
		return nil, fmt.Errorf("unmarshal undo: %w", err)
	}
	return &undo, nil
}

// DeleteUndo removes undo data for a block.
func (bs *BlockStore) DeleteUndo(hash types.Hash) error {
	return bs.db.Delete(undoKey(hash))
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}
