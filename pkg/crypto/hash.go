// Package crypto provides the digest and signature primitives for cig-chain.
//
// Every other component depends on these adapters rather than on a concrete
// hash function or curve: swapping the scheme means changing only this package.
package crypto

import (
	"github.com/zeebo/blake3"

	"github.com/zzzizo/cig-chain/pkg/types"
)

// Hash computes a BLAKE3-256 digest of the input data.
// Pure and deterministic: same input always yields the same digest.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}
