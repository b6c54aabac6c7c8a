package consensus

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/zzzizo/cig-chain/pkg/block"
)

func TestNewPoAEmpty(t *testing.T) {
	if _, err := NewPoA(nil); !errors.Is(err, ErrNoAuthorities) {
		t.Fatalf("err = %v, want ErrNoAuthorities", err)
	}
}

func TestPoAScheduleSortedRoundRobin(t *testing.T) {
	keys := pubKeys(newKey(t), newKey(t), newKey(t))
	eng, err := NewPoA(keys)
	if err != nil {
		t.Fatalf("new poa: %v", err)
	}

	sorted := eng.Authorities()
	if !sort.SliceIsSorted(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	}) {
		t.Fatalf("authority list is not sorted")
	}

	for round := uint64(0); round < 6; round++ {
		got, err := eng.SelectProposer(newFakeView(), round)
		if err != nil {
			t.Fatalf("select round %d: %v", round, err)
		}
		if !bytes.Equal(got, sorted[round%3]) {
			t.Fatalf("round %d: wrong scheduled authority", round)
		}
	}
}

func TestPoAValidateProposal(t *testing.T) {
	authority := newKey(t)
	eng, err := NewPoA(pubKeys(authority, newKey(t)))
	if err != nil {
		t.Fatalf("new poa: %v", err)
	}

	blk := signedBlock(t, authority, 1, types32(0xaa), nil)
	if err := eng.ValidateProposal(blk, newFakeView()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPoANonAuthorityRejected(t *testing.T) {
	eng, err := NewPoA(pubKeys(newKey(t)))
	if err != nil {
		t.Fatalf("new poa: %v", err)
	}

	blk := signedBlock(t, newKey(t), 1, types32(0xaa), nil)
	if err := eng.ValidateProposal(blk, newFakeView()); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("err = %v, want ErrNotAuthority", err)
	}
}

// Any authority is accepted regardless of rotation turn: turn order is a
// liveness hint, not a validity rule.
func TestPoAOffTurnAuthorityAccepted(t *testing.T) {
	a, b := newKey(t), newKey(t)
	eng, err := NewPoA(pubKeys(a, b))
	if err != nil {
		t.Fatalf("new poa: %v", err)
	}

	scheduled, _ := eng.SelectProposer(newFakeView(), 0)
	offTurn := a
	if bytes.Equal(scheduled, a.PublicKey()) {
		offTurn = b
	}

	blk := signedBlock(t, offTurn, 1, types32(0xaa), func(h *block.Header) { h.Round = 0 })
	if err := eng.ValidateProposal(blk, newFakeView()); err != nil {
		t.Fatalf("off-turn authority rejected: %v", err)
	}
}

func TestPoAResolveForkLongestAuthoritySigned(t *testing.T) {
	authority := newKey(t)
	eng, err := NewPoA(pubKeys(authority))
	if err != nil {
		t.Fatalf("new poa: %v", err)
	}
	view := newFakeView()

	parent := signedBlock(t, authority, 1, types32(0), nil)
	view.setTip(parent)

	short := signedBlock(t, authority, 1, types32(0), func(h *block.Header) { h.Timestamp += 7 })
	long := signedBlock(t, authority, 2, parent.Hash(), nil)
	outsider := signedBlock(t, newKey(t), 3, types32(0), nil) // no authority weight
	view.observe(short)
	view.observe(long)
	view.observe(outsider)

	winner, err := eng.ResolveFork([]*block.Block{short, long, outsider}, view)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if winner.Hash() != long.Hash() {
		t.Fatalf("longest authority-signed branch should win")
	}
}
