package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// CrossRef points at a block in another shard that this block depends on.
// The referenced block must already be finalized in its shard.
type CrossRef struct {
	Shard     uint32     `json:"shard"`
	BlockHash types.Hash `json:"block_hash"`
}

// Header contains block metadata. The consensus-metadata fields are
// variant-specific and zero-valued for variants that do not use them:
// Difficulty and Nonce belong to PoW, Round to DPoS/PBFT/PoA rotation,
// StakeRef to PoS/DPoS validator-set snapshots, BurnProof to PoB, and
// ShardID/CrossRefs to sharded mode.
type Header struct {
	Version    uint32     `json:"version"`
	Height     uint64     `json:"height"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Proposer   []byte     `json:"proposer,omitempty"` // compressed pubkey; empty for genesis

	Round      uint64     `json:"round,omitempty"`
	Difficulty uint64     `json:"difficulty,omitempty"`
	Nonce      uint64     `json:"nonce,omitempty"`
	StakeRef   types.Hash `json:"stake_ref,omitempty"`
	BurnProof  types.Hash `json:"burn_proof,omitempty"`
	ShardID    uint32     `json:"shard_id,omitempty"`
	CrossRefs  []CrossRef `json:"cross_refs,omitempty"`

	ProposerSig []byte `json:"proposer_sig,omitempty"`
}

// headerJSON is the JSON representation of Header with hex-encoded byte fields.
type headerJSON struct {
	Version    uint32     `json:"version"`
	Height     uint64     `json:"height"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Proposer   string     `json:"proposer,omitempty"`

	Round      uint64     `json:"round,omitempty"`
	Difficulty uint64     `json:"difficulty,omitempty"`
	Nonce      uint64     `json:"nonce,omitempty"`
	StakeRef   types.Hash `json:"stake_ref,omitempty"`
	BurnProof  types.Hash `json:"burn_proof,omitempty"`
	ShardID    uint32     `json:"shard_id,omitempty"`
	CrossRefs  []CrossRef `json:"cross_refs,omitempty"`

	ProposerSig string `json:"proposer_sig,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded proposer and signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:    h.Version,
		Height:     h.Height,
		PrevHash:   h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  h.Timestamp,
		Round:      h.Round,
		Difficulty: h.Difficulty,
		Nonce:      h.Nonce,
		StakeRef:   h.StakeRef,
		BurnProof:  h.BurnProof,
		ShardID:    h.ShardID,
		CrossRefs:  h.CrossRefs,
	}
	if h.Proposer != nil {
		j.Proposer = hex.EncodeToString(h.Proposer)
	}
	if h.ProposerSig != nil {
		j.ProposerSig = hex.EncodeToString(h.ProposerSig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded proposer and signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.Height = j.Height
	h.PrevHash = j.PrevHash
	h.MerkleRoot = j.MerkleRoot
	h.Timestamp = j.Timestamp
	h.Round = j.Round
	h.Difficulty = j.Difficulty
	h.Nonce = j.Nonce
	h.StakeRef = j.StakeRef
	h.BurnProof = j.BurnProof
	h.ShardID = j.ShardID
	h.CrossRefs = j.CrossRefs
	if j.Proposer != "" {
		b, err := hex.DecodeString(j.Proposer)
		if err != nil {
			return err
		}
		h.Proposer = b
	}
	if j.ProposerSig != "" {
		b, err := hex.DecodeString(j.ProposerSig)
		if err != nil {
			return err
		}
		h.ProposerSig = b
	}
	return nil
}

// SigningBytes returns the canonical bytes for hashing and signing.
// Excludes ProposerSig so the digest is stable for the proposer to sign.
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 192+len(h.Proposer)+40*len(h.CrossRefs))
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Proposer)))
	buf = append(buf, h.Proposer...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Round)
	buf = binary.LittleEndian.AppendUint64(buf, h.Difficulty)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	buf = append(buf, h.StakeRef[:]...)
	buf = append(buf, h.BurnProof[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.ShardID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.CrossRefs)))
	for _, ref := range h.CrossRefs {
		buf = binary.LittleEndian.AppendUint32(buf, ref.Shard)
		buf = append(buf, ref.BlockHash[:]...)
	}
	return buf
}

// Hash computes the block header digest.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SignWith signs the header digest with the given key and records the key as
// proposer. Used by all leader-based variants; PoW blocks are unsigned.
func (h *Header) SignWith(key *crypto.PrivateKey) error {
	h.Proposer = key.PublicKey()
	hash := h.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		return err
	}
	h.ProposerSig = sig
	return nil
}

// VerifyProposerSig checks the proposer signature over the header digest.
func (h *Header) VerifyProposerSig() bool {
	if len(h.Proposer) != types.PubKeySize || len(h.ProposerSig) == 0 {
		return false
	}
	hash := h.Hash()
	return crypto.VerifySignature(hash[:], h.ProposerSig, h.Proposer)
}
