package local

import "github.com/mirabelle-sync/mirabelle/internal/remote"

// TreeState is a subtree's synchronization state.
type TreeState int

const (
	// StateNone means the subtree has not been evaluated yet.
	StateNone TreeState = iota
	// StateSynced means local and remote agree.
	StateSynced
	// StatePending means a change is queued but not yet acted on.
	StatePending
	// StateSyncing means a transfer is actively running.
	StateSyncing
)

func (s TreeState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StatePending:
		return "pending"
	case StateSyncing:
		return "syncing"
	default:
		return "none"
	}
}

// severity orders states for aggregation: SYNCING > PENDING > SYNCED > NONE.
func severity(s TreeState) int {
	switch s {
	case StateSyncing:
		return 3
	case StatePending:
		return 2
	case StateSynced:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two states.
func Worse(a, b TreeState) TreeState {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// State returns the node's current state.
func (n *Node) State() TreeState {
	return n.ts
}

// DisplayedState returns the state last shown for this node: for folders,
// the aggregate of the children at the time of the last propagation.
func (n *Node) DisplayedState() TreeState {
	return n.dts
}

// CheckState computes a folder's aggregate state as the worst state among
// its direct children. Files report their own state.
func (n *Node) CheckState() TreeState {
	if n.Kind == remote.KindFile {
		return n.ts
	}
	state := StateNone
	for _, c := range n.children {
		state = Worse(state, c.ts)
	}
	return state
}

// SetTreeState sets this node's state and lazily re-displays ancestors:
// each ancestor's aggregate is recomputed bottom-up, stopping at the first
// one whose displayed state is unchanged. The returned slice holds every
// node whose displayed state changed, the node itself first.
func (n *Node) SetTreeState(st TreeState) []*Node {
	var updated []*Node

	n.ts = st
	if n.dts != n.ts {
		n.dts = n.ts
		updated = append(updated, n)
	}

	for a := n.parent; a != nil; a = a.parent {
		agg := a.CheckState()
		if agg == a.dts {
			break
		}
		a.ts = agg
		a.dts = agg
		updated = append(updated, a)
	}
	return updated
}
