package local

import (
	"testing"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

func TestWorse(t *testing.T) {
	tests := []struct {
		a, b, want TreeState
	}{
		{StateNone, StateSynced, StateSynced},
		{StateSynced, StatePending, StatePending},
		{StatePending, StateSyncing, StateSyncing},
		{StateSyncing, StateSynced, StateSyncing},
		{StatePending, StatePending, StatePending},
	}
	for _, tt := range tests {
		if got := Worse(tt.a, tt.b); got != tt.want {
			t.Errorf("Worse(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := Worse(tt.b, tt.a); got != tt.want {
			t.Errorf("Worse(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestCheckStateAggregatesDirectChildren(t *testing.T) {
	root := NewNode(remote.KindFolder, nil, "root")
	a := NewNode(remote.KindFile, root, "a")
	b := NewNode(remote.KindFile, root, "b")

	a.SetTreeState(StateSynced)
	b.SetTreeState(StateSyncing)

	if got := root.CheckState(); got != StateSyncing {
		t.Errorf("CheckState = %v, want syncing", got)
	}

	b.SetTreeState(StateSynced)
	if got := root.CheckState(); got != StateSynced {
		t.Errorf("CheckState = %v, want synced", got)
	}

	// files report their own state, not their (nonexistent) children's
	if got := a.CheckState(); got != StateSynced {
		t.Errorf("file CheckState = %v, want synced", got)
	}
}

func TestSetTreeStatePropagatesUpward(t *testing.T) {
	root := NewNode(remote.KindFolder, nil, "root")
	dir := NewNode(remote.KindFolder, root, "dir")
	f := NewNode(remote.KindFile, dir, "f")

	updated := f.SetTreeState(StateSyncing)
	if len(updated) != 3 {
		t.Fatalf("updated %d nodes, want 3 (file + both ancestors)", len(updated))
	}
	if updated[0] != f {
		t.Error("the node itself must come first")
	}
	if dir.DisplayedState() != StateSyncing || root.DisplayedState() != StateSyncing {
		t.Error("ancestors should display the aggregated state")
	}
}

func TestSetTreeStateStopsAtUnchangedAncestor(t *testing.T) {
	root := NewNode(remote.KindFolder, nil, "root")
	dir := NewNode(remote.KindFolder, root, "dir")
	a := NewNode(remote.KindFile, dir, "a")
	b := NewNode(remote.KindFile, dir, "b")

	a.SetTreeState(StateSyncing)
	// dir and root both display syncing now; b turning pending changes
	// nothing above it
	updated := b.SetTreeState(StatePending)
	if len(updated) != 1 || updated[0] != b {
		t.Fatalf("updated = %d nodes, want just the file", len(updated))
	}
	if dir.DisplayedState() != StateSyncing {
		t.Error("unchanged ancestor display must not move")
	}

	// a finishing drops dir to pending (b still pending) and root follows
	updated = a.SetTreeState(StateSynced)
	if dir.DisplayedState() != StatePending || root.DisplayedState() != StatePending {
		t.Errorf("dir = %v, root = %v, want pending", dir.DisplayedState(), root.DisplayedState())
	}
	if len(updated) != 3 {
		t.Errorf("updated %d nodes, want 3", len(updated))
	}
}

func TestSetTreeStateSameDisplayNoUpdate(t *testing.T) {
	f := NewNode(remote.KindFile, nil, "f")
	f.SetTreeState(StatePending)
	if updated := f.SetTreeState(StatePending); len(updated) != 0 {
		t.Errorf("re-setting the same state updated %d nodes", len(updated))
	}
}

func TestTreeStateString(t *testing.T) {
	for st, want := range map[TreeState]string{
		StateNone:    "none",
		StateSynced:  "synced",
		StatePending: "pending",
		StateSyncing: "syncing",
	} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}
