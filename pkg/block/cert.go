package block

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// VotePhase identifies the PBFT phase a vote belongs to.
type VotePhase uint8

const (
	// PhasePrepare is the first voting phase after pre-prepare.
	PhasePrepare VotePhase = iota + 1
	// PhaseCommit is the final voting phase; a commit quorum finalizes.
	PhaseCommit
)

// Quorum certificate errors.
var (
	ErrCertEmpty         = errors.New("quorum certificate has no votes")
	ErrCertShort         = errors.New("quorum certificate below quorum size")
	ErrCertMixedBlock    = errors.New("quorum certificate mixes block hashes")
	ErrCertDuplicateVote = errors.New("duplicate validator in quorum certificate")
	ErrCertUnknownVoter  = errors.New("vote from validator outside the known set")
	ErrCertBadSignature  = errors.New("invalid vote signature in certificate")
	ErrCertWrongPhase    = errors.New("vote phase does not match certificate phase")
)

// Vote is a single validator's vote for a block in a PBFT round.
type Vote struct {
	BlockHash types.Hash `json:"block_hash"`
	Round     uint64     `json:"round"`
	Phase     VotePhase  `json:"phase"`
	Validator []byte     `json:"validator"` // compressed pubkey
	Signature []byte     `json:"signature"`
}

// voteJSON is the JSON representation of Vote with hex-encoded byte fields.
type voteJSON struct {
	BlockHash types.Hash `json:"block_hash"`
	Round     uint64     `json:"round"`
	Phase     VotePhase  `json:"phase"`
	Validator string     `json:"validator"`
	Signature string     `json:"signature"`
}

// MarshalJSON encodes the vote with hex-encoded validator and signature.
func (v *Vote) MarshalJSON() ([]byte, error) {
	return json.Marshal(voteJSON{
		BlockHash: v.BlockHash,
		Round:     v.Round,
		Phase:     v.Phase,
		Validator: hex.EncodeToString(v.Validator),
		Signature: hex.EncodeToString(v.Signature),
	})
}

// UnmarshalJSON decodes a vote with hex-encoded validator and signature.
func (v *Vote) UnmarshalJSON(data []byte) error {
	var j voteJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	v.BlockHash = j.BlockHash
	v.Round = j.Round
	v.Phase = j.Phase
	var err error
	if v.Validator, err = hex.DecodeString(j.Validator); err != nil {
		return err
	}
	if v.Signature, err = hex.DecodeString(j.Signature); err != nil {
		return err
	}
	return nil
}

// SigningBytes returns the canonical bytes a validator signs for this vote.
// Format: block_hash(32) | round(8) | phase(1)
func (v *Vote) SigningBytes() []byte {
	buf := make([]byte, 0, types.HashSize+9)
	buf = append(buf, v.BlockHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, v.Round)
	buf = append(buf, byte(v.Phase))
	return buf
}

// Verify checks the vote signature against the validator's public key.
func (v *Vote) Verify() bool {
	if len(v.Validator) != types.PubKeySize || len(v.Signature) == 0 {
		return false
	}
	digest := crypto.Hash(v.SigningBytes())
	return crypto.VerifySignature(digest[:], v.Signature, v.Validator)
}

// NewVote creates and signs a vote with the given key.
func NewVote(key *crypto.PrivateKey, blockHash types.Hash, round uint64, phase VotePhase) (*Vote, error) {
	v := &Vote{
		BlockHash: blockHash,
		Round:     round,
		Phase:     phase,
		Validator: key.PublicKey(),
	}
	digest := crypto.Hash(v.SigningBytes())
	sig, err := key.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign vote: %w", err)
	}
	v.Signature = sig
	return v, nil
}

// QuorumCert aggregates commit votes proving that a quorum of validators
// voted for the same block in the same round.
type QuorumCert struct {
	BlockHash types.Hash `json:"block_hash"`
	Round     uint64     `json:"round"`
	Commits   []*Vote    `json:"commits"`
}

// Verify checks that the certificate carries at least quorum distinct,
// correctly signed commit votes from the known validator set, all for the
// certificate's block hash and round.
func (qc *QuorumCert) Verify(validators [][]byte, quorum int) error {
	if len(qc.Commits) == 0 {
		return ErrCertEmpty
	}

	seen := make(map[string]bool, len(qc.Commits))
	valid := 0
	for _, v := range qc.Commits {
		if v.Phase != PhaseCommit {
			return ErrCertWrongPhase
		}
		if v.BlockHash != qc.BlockHash || v.Round != qc.Round {
			return fmt.Errorf("%w: vote for %s round %d in cert for %s round %d",
				ErrCertMixedBlock, v.BlockHash, v.Round, qc.BlockHash, qc.Round)
		}
		key := string(v.Validator)
		if seen[key] {
			return ErrCertDuplicateVote
		}
		seen[key] = true
		if !isKnownValidator(validators, v.Validator) {
			return ErrCertUnknownVoter
		}
		if !v.Verify() {
			return ErrCertBadSignature
		}
		valid++
	}

	if valid < quorum {
		return fmt.Errorf("%w: %d valid votes, quorum %d", ErrCertShort, valid, quorum)
	}
	return nil
}

func isKnownValidator(validators [][]byte, pubKey []byte) bool {
	for _, v := range validators {
		if bytes.Equal(v, pubKey) {
			return true
		}
	}
	return false
}
