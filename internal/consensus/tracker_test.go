package consensus

import "testing"

func TestProposerTrackerRecords(t *testing.T) {
	tr := NewProposerTracker()
	pub := newKey(t).PublicKey()

	tr.RecordAccepted(pub)
	tr.RecordAccepted(pub)
	tr.RecordInvalid(pub)
	tr.RecordMiss(pub)

	s := tr.Stats(pub)
	if s == nil {
		t.Fatalf("stats missing for tracked proposer")
	}
	if s.Accepted != 2 || s.Invalid != 1 || s.Missed != 1 {
		t.Fatalf("stats = accepted %d invalid %d missed %d", s.Accepted, s.Invalid, s.Missed)
	}
	if s.LastProposal.IsZero() {
		t.Fatalf("last proposal time not recorded")
	}
}

func TestProposerTrackerUnknown(t *testing.T) {
	tr := NewProposerTracker()
	if s := tr.Stats(newKey(t).PublicKey()); s != nil {
		t.Fatalf("stats for untracked proposer should be nil")
	}
}

func TestProposerTrackerStatsAreCopies(t *testing.T) {
	tr := NewProposerTracker()
	pub := newKey(t).PublicKey()
	tr.RecordAccepted(pub)

	s := tr.Stats(pub)
	s.Accepted = 999
	s.PubKey[0] ^= 0xFF

	if again := tr.Stats(pub); again.Accepted != 1 {
		t.Fatalf("caller mutation leaked into tracker")
	}
	if all := tr.AllStats(); len(all) != 1 || all[0].Accepted != 1 {
		t.Fatalf("all-stats should return copies")
	}
}
