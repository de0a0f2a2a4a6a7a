package local

import (
	"testing"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

func TestSetFSIDUniqueness(t *testing.T) {
	idx := make(FSIDIndex)
	a := NewNode(remote.KindFile, nil, "a")
	b := NewNode(remote.KindFile, nil, "b")

	a.SetFSID(42, idx)
	if idx[42] != a || a.FSID != 42 {
		t.Fatal("claim not recorded")
	}

	// the id moved: the newer claimant wins, the older one loses its id
	b.SetFSID(42, idx)
	if idx[42] != b {
		t.Error("index should point at the newer claimant")
	}
	if a.FSID != 0 {
		t.Error("older claimant should lose the id")
	}
}

func TestSetFSIDReplacesOwnEntry(t *testing.T) {
	idx := make(FSIDIndex)
	n := NewNode(remote.KindFile, nil, "n")

	n.SetFSID(1, idx)
	n.SetFSID(2, idx)
	if idx[1] != nil {
		t.Error("old entry should be dropped")
	}
	if idx[2] != n || n.FSID != 2 {
		t.Error("new entry missing")
	}

	n.SetFSID(0, idx)
	if len(idx) != 0 {
		t.Error("zero id must not be indexed")
	}
}

func TestDropFSIDKeepsIDForLogging(t *testing.T) {
	idx := make(FSIDIndex)
	n := NewNode(remote.KindFile, nil, "n")
	n.SetFSID(7, idx)

	n.DropFSID(idx)
	if idx[7] != nil {
		t.Error("index entry should be released")
	}
	if n.FSID != 7 {
		t.Error("the node keeps its id after release")
	}

	// dropping must not evict another node that reclaimed the id
	other := NewNode(remote.KindFile, nil, "other")
	other.SetFSID(7, idx)
	n.DropFSID(idx)
	if idx[7] != other {
		t.Error("DropFSID evicted a different claimant")
	}
}

func TestSetNotSeen(t *testing.T) {
	set := make(NotSeenSet)
	n := NewNode(remote.KindFile, nil, "n")

	n.SetNotSeen(1, set)
	if _, ok := set[n]; !ok || n.NotSeen != 1 {
		t.Fatal("nonzero counter should join the sweep set")
	}
	n.SetNotSeen(2, set)
	if n.NotSeen != 2 || len(set) != 1 {
		t.Error("advancing the counter should not duplicate membership")
	}
	n.SetNotSeen(0, set)
	if _, ok := set[n]; ok || n.NotSeen != 0 {
		t.Error("zero counter should leave the sweep set")
	}
}
