// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// Transaction is an account-model value transfer. Amount is in base units
// (the smallest indivisible unit). Nonce is monotonic per sender. Payload is
// opaque to the core: a non-empty payload is handed to the external contract
// engine during block application.
type Transaction struct {
	Version      uint32        `json:"version"`
	From         types.Address `json:"from"`
	To           types.Address `json:"to"`
	Amount       uint64        `json:"amount"`
	Nonce        uint64        `json:"nonce"`
	Payload      []byte        `json:"payload,omitempty"`
	SenderPubKey []byte        `json:"sender_pubkey"`
	Signature    []byte        `json:"signature"`
}

// txJSON is the JSON representation with hex-encoded byte fields.
type txJSON struct {
	Version      uint32        `json:"version"`
	From         types.Address `json:"from"`
	To           types.Address `json:"to"`
	Amount       uint64        `json:"amount"`
	Nonce        uint64        `json:"nonce"`
	Payload      string        `json:"payload,omitempty"`
	SenderPubKey string        `json:"sender_pubkey"`
	Signature    string        `json:"signature"`
}

// MarshalJSON encodes the transaction with hex-encoded byte fields.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	j := txJSON{
		Version:      t.Version,
		From:         t.From,
		To:           t.To,
		Amount:       t.Amount,
		Nonce:        t.Nonce,
		Payload:      hex.EncodeToString(t.Payload),
		SenderPubKey: hex.EncodeToString(t.SenderPubKey),
		Signature:    hex.EncodeToString(t.Signature),
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a transaction with hex-encoded byte fields.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t.Version = j.Version
	t.From = j.From
	t.To = j.To
	t.Amount = j.Amount
	t.Nonce = j.Nonce

	var err error
	if t.Payload, err = decodeHexField(j.Payload); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	if t.SenderPubKey, err = decodeHexField(j.SenderPubKey); err != nil {
		return fmt.Errorf("sender_pubkey: %w", err)
	}
	if t.Signature, err = decodeHexField(j.Signature); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	return nil
}

func decodeHexField(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// SigningBytes returns the canonical byte encoding used for hashing and
// signing. The signature itself is excluded.
// Format: version(4) | from(20) | to(20) | amount(8) | nonce(8) |
// payload_len(4) | payload | pubkey_len(4) | pubkey
func (t *Transaction) SigningBytes() []byte {
	buf := make([]byte, 0, 68+len(t.Payload)+len(t.SenderPubKey))
	buf = binary.LittleEndian.AppendUint32(buf, t.Version)
	buf = append(buf, t.From[:]...)
	buf = append(buf, t.To[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, t.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, t.Nonce)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Payload)))
	buf = append(buf, t.Payload...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.SenderPubKey)))
	buf = append(buf, t.SenderPubKey...)
	return buf
}

// Hash computes the transaction ID (digest of the canonical signing bytes).
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// Sign populates SenderPubKey and Signature using the given private key.
// The key's derived address must equal the From field.
func (t *Transaction) Sign(key *crypto.PrivateKey) error {
	pub := key.PublicKey()
	if crypto.AddressFromPubKey(pub) != t.From {
		return fmt.Errorf("signing key does not own sender address %s", t.From)
	}
	t.SenderPubKey = pub

	hash := t.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	t.Signature = sig
	return nil
}

// VerifySignature checks the signature over the canonical signing bytes
// against SenderPubKey, and that the pubkey derives the From address.
func (t *Transaction) VerifySignature() bool {
	if len(t.SenderPubKey) != types.PubKeySize || len(t.Signature) == 0 {
		return false
	}
	if crypto.AddressFromPubKey(t.SenderPubKey) != t.From {
		return false
	}
	hash := t.Hash()
	return crypto.VerifySignature(hash[:], t.Signature, t.SenderPubKey)
}

// HasPayload reports whether the transaction carries a contract payload.
func (t *Transaction) HasPayload() bool {
	return len(t.Payload) > 0
}
