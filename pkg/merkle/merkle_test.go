package merkle

import (
	"fmt"
	"testing"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

func leaves(n int) []types.Hash {
	out := make([]types.Hash, n)
	for i := range out {
		out[i] = crypto.Hash([]byte(fmt.Sprintf("tx-%d", i)))
	}
	return out
}

// leafDigest and nodeDigest recompute the domain-separated hashes by hand so
// the tests pin the wire scheme, not the implementation.
func leafDigest(h types.Hash) types.Hash {
	return crypto.Hash(append([]byte{0x00}, h[:]...))
}

func nodeDigest(l, r types.Hash) types.Hash {
	buf := append([]byte{0x01}, l[:]...)
	return crypto.Hash(append(buf, r[:]...))
}

func TestRoot_Empty(t *testing.T) {
	if got := Root(nil); got != EmptyRoot {
		t.Errorf("empty tree root = %s, want sentinel %s", got, EmptyRoot)
	}
	if got := Root([]types.Hash{}); got != EmptyRoot {
		t.Errorf("empty slice root = %s, want sentinel", got)
	}
}

func TestRoot_SentinelIsNotZero(t *testing.T) {
	if EmptyRoot.IsZero() {
		t.Error("empty sentinel must be distinct from the zero hash")
	}
}

func TestRoot_Single(t *testing.T) {
	h := crypto.Hash([]byte("single tx"))
	got := Root([]types.Hash{h})
	if got != leafDigest(h) {
		t.Errorf("single leaf root = %s, want %s", got, leafDigest(h))
	}
	if got == h {
		t.Error("root must not equal the bare leaf digest")
	}
}

func TestRoot_Two(t *testing.T) {
	ls := leaves(2)
	want := nodeDigest(leafDigest(ls[0]), leafDigest(ls[1]))
	if got := Root(ls); got != want {
		t.Errorf("two leaves: got %s, want %s", got, want)
	}
}

func TestRoot_Three_DuplicatesLast(t *testing.T) {
	ls := leaves(3)
	// [l0 l1 l2 l2] -> [N(l0,l1), N(l2,l2)] -> root.
	left := nodeDigest(leafDigest(ls[0]), leafDigest(ls[1]))
	right := nodeDigest(leafDigest(ls[2]), leafDigest(ls[2]))
	want := nodeDigest(left, right)
	if got := Root(ls); got != want {
		t.Errorf("three leaves: got %s, want %s", got, want)
	}
}

func TestRoot_InteriorNodeIsNotALeaf(t *testing.T) {
	ls := leaves(2)
	root := Root(ls)
	// Presenting the two-leaf root as a single leaf must not reproduce it:
	// the leaf and node domains are separated.
	if Root([]types.Hash{root}) == root {
		t.Error("interior digest replayed as a leaf reproduced the root")
	}
}

func TestRoot_OrderSensitive(t *testing.T) {
	ls := leaves(4)
	swapped := []types.Hash{ls[1], ls[0], ls[2], ls[3]}
	if Root(ls) == Root(swapped) {
		t.Error("reordering leaves should change the root")
	}
}

func TestProof_RoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 16, 33} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			ls := leaves(n)
			tree := Build(ls)
			root := tree.Root()
			for i := 0; i < n; i++ {
				proof, err := tree.Proof(i)
				if err != nil {
					t.Fatalf("Proof(%d): %v", i, err)
				}
				if !VerifyProof(ls[i], proof, root) {
					t.Errorf("proof for leaf %d did not verify", i)
				}
			}
		})
	}
}

func TestProof_FlippedLeafFails(t *testing.T) {
	ls := leaves(8)
	tree := Build(ls)
	root := tree.Root()

	proof, err := tree.Proof(3)
	if err != nil {
		t.Fatal(err)
	}

	bad := ls[3]
	bad[0] ^= 1
	if VerifyProof(bad, proof, root) {
		t.Error("bit-flipped leaf should not verify")
	}
}

func TestProof_FlippedStepFails(t *testing.T) {
	ls := leaves(8)
	tree := Build(ls)
	root := tree.Root()

	proof, err := tree.Proof(5)
	if err != nil {
		t.Fatal(err)
	}

	for i := range proof {
		tampered := make([]ProofStep, len(proof))
		copy(tampered, proof)
		tampered[i].Digest[0] ^= 1
		if VerifyProof(ls[5], tampered, root) {
			t.Errorf("proof with flipped step %d should not verify", i)
		}
	}
}

func TestProof_WrongLeafFails(t *testing.T) {
	ls := leaves(4)
	tree := Build(ls)
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	if VerifyProof(ls[1], proof, tree.Root()) {
		t.Error("proof for leaf 0 should not verify leaf 1")
	}
}

func TestProof_OutOfRange(t *testing.T) {
	tree := Build(leaves(3))
	if _, err := tree.Proof(3); err == nil {
		t.Error("index past last leaf should fail")
	}
	if _, err := tree.Proof(-1); err == nil {
		t.Error("negative index should fail")
	}
	empty := Build(nil)
	if _, err := empty.Proof(0); err == nil {
		t.Error("proof on empty tree should fail")
	}
}
