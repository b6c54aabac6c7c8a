package block

import (
	"errors"
	"testing"

	"github.com/zzzizo/cig-chain/pkg/crypto"
	"github.com/zzzizo/cig-chain/pkg/types"
)

// validatorSet generates n keys and returns them with their pubkeys.
func validatorSet(t *testing.T, n int) ([]*crypto.PrivateKey, [][]byte) {
	t.Helper()
	keys := make([]*crypto.PrivateKey, n)
	pubs := make([][]byte, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = key
		pubs[i] = key.PublicKey()
	}
	return keys, pubs
}

func buildCert(t *testing.T, keys []*crypto.PrivateKey, blockHash types.Hash, round uint64, voters int) *QuorumCert {
	t.Helper()
	qc := &QuorumCert{BlockHash: blockHash, Round: round}
	for i := 0; i < voters; i++ {
		v, err := NewVote(keys[i], blockHash, round, PhaseCommit)
		if err != nil {
			t.Fatal(err)
		}
		qc.Commits = append(qc.Commits, v)
	}
	return qc
}

func TestQuorumCert_Verify(t *testing.T) {
	// f=1: 4 validators, quorum 3.
	keys, pubs := validatorSet(t, 4)
	blockHash := types.Hash{0xaa}

	qc := buildCert(t, keys, blockHash, 0, 3)
	if err := qc.Verify(pubs, 3); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestQuorumCert_BelowQuorum(t *testing.T) {
	keys, pubs := validatorSet(t, 4)
	qc := buildCert(t, keys, types.Hash{0xaa}, 0, 2)
	if err := qc.Verify(pubs, 3); !errors.Is(err, ErrCertShort) {
		t.Errorf("Verify() = %v, want ErrCertShort", err)
	}
}

func TestQuorumCert_DuplicateVoter(t *testing.T) {
	keys, pubs := validatorSet(t, 4)
	qc := buildCert(t, keys, types.Hash{0xaa}, 0, 2)
	qc.Commits = append(qc.Commits, qc.Commits[0])
	if err := qc.Verify(pubs, 3); !errors.Is(err, ErrCertDuplicateVote) {
		t.Errorf("Verify() = %v, want ErrCertDuplicateVote", err)
	}
}

func TestQuorumCert_UnknownVoter(t *testing.T) {
	keys, pubs := validatorSet(t, 4)
	outsider, _ := crypto.GenerateKey()
	qc := buildCert(t, keys, types.Hash{0xaa}, 0, 2)
	v, err := NewVote(outsider, types.Hash{0xaa}, 0, PhaseCommit)
	if err != nil {
		t.Fatal(err)
	}
	qc.Commits = append(qc.Commits, v)
	if err := qc.Verify(pubs, 3); !errors.Is(err, ErrCertUnknownVoter) {
		t.Errorf("Verify() = %v, want ErrCertUnknownVoter", err)
	}
}

func TestQuorumCert_MixedBlockHash(t *testing.T) {
	keys, pubs := validatorSet(t, 4)
	qc := buildCert(t, keys, types.Hash{0xaa}, 0, 2)
	v, err := NewVote(keys[2], types.Hash{0xbb}, 0, PhaseCommit)
	if err != nil {
		t.Fatal(err)
	}
	qc.Commits = append(qc.Commits, v)
	if err := qc.Verify(pubs, 3); !errors.Is(err, ErrCertMixedBlock) {
		t.Errorf("Verify() = %v, want ErrCertMixedBlock", err)
	}
}

func TestQuorumCert_PrepareVoteRejected(t *testing.T) {
	keys, pubs := validatorSet(t, 4)
	qc := &QuorumCert{BlockHash: types.Hash{0xaa}}
	v, err := NewVote(keys[0], types.Hash{0xaa}, 0, PhasePrepare)
	if err != nil {
		t.Fatal(err)
	}
	qc.Commits = append(qc.Commits, v)
	if err := qc.Verify(pubs, 1); !errors.Is(err, ErrCertWrongPhase) {
		t.Errorf("Verify() = %v, want ErrCertWrongPhase", err)
	}
}

func TestVote_TamperedSignature(t *testing.T) {
	keys, _ := validatorSet(t, 1)
	v, err := NewVote(keys[0], types.Hash{1}, 2, PhaseCommit)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verify() {
		t.Fatal("fresh vote should verify")
	}
	v.Round = 3
	if v.Verify() {
		t.Error("changing the round should invalidate the vote")
	}
}
