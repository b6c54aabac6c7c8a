package tx

import (
	"encoding/json"
	"testing"
)

// FuzzTxUnmarshal tests that arbitrary JSON input does not panic
// when unmarshaled into a Transaction struct.
func FuzzTxUnmarshal(f *testing.F) {
	f.Add([]byte(`{"version":1,"from":"0101010101010101010101010101010101010101","to":"0202020202020202020202020202020202020202","amount":1000,"nonce":0,"sender_pubkey":"02","signature":"00"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"payload":"zz"}`))
	f.Add([]byte(`{"sender_pubkey":"","signature":""}`))
	f.Add([]byte(`{"amount":18446744073709551615,"nonce":18446744073709551615}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var tr Transaction
		if err := json.Unmarshal(data, &tr); err != nil {
			return
		}
		// If unmarshal succeeded, these must not panic.
		tr.Hash()
		tr.SigningBytes()
		tr.Validate()
		tr.VerifySignature() // May fail but must not panic.
	})
}
