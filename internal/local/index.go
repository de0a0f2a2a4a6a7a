package local

// FSIDIndex maps filesystem ids to their local nodes. It belongs to the
// owning sync job (engine), not to the process: its lifetime is the
// engine's lifetime.
type FSIDIndex map[uint64]*Node

// NotSeenSet tracks nodes with a nonzero not-seen counter so sweeps do not
// have to walk the whole tree.
type NotSeenSet map[*Node]struct{}

// SetFSID claims a filesystem id for this node, atomically with respect to
// index uniqueness: the node's previous id entry is dropped, and if
// another node currently holds the new id, that older claimant loses it
// (the id has demonstrably moved).
func (n *Node) SetFSID(id uint64, idx FSIDIndex) {
	if n.FSID != 0 && idx[n.FSID] == n {
		delete(idx, n.FSID)
	}
	if prev := idx[id]; prev != nil && prev != n {
		prev.FSID = 0
	}
	n.FSID = id
	if id != 0 {
		idx[id] = n
	}
}

// DropFSID releases the node's index entry, used when the node is
// destroyed. The id itself is kept on the node for logging.
func (n *Node) DropFSID(idx FSIDIndex) {
	if n.FSID != 0 && idx[n.FSID] == n {
		delete(idx, n.FSID)
	}
}

// SetNotSeen resets or advances the not-seen counter and keeps the sweep
// set consistent: zero removes the node, anything else adds it.
func (n *Node) SetNotSeen(count int, set NotSeenSet) {
	n.NotSeen = count
	if count == 0 {
		delete(set, n)
	} else {
		set[n] = struct{}{}
	}
}
