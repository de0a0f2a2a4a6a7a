// Package local models the local-filesystem mirror tree: one Node per
// file or directory under sync management, the filesystem-id index used
// for rename/move detection, and the per-subtree synchronization state.
//
// Nothing here is internally synchronized; a single engine goroutine owns
// all mutations (see internal/engine).
package local

import (
	"path/filepath"
	"time"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// Node is one entry of the local mirror tree.
type Node struct {
	Kind remote.Kind // KindFile or KindFolder
	Name string

	// ShortName is the legacy secondary ("8.3") name on filesystems
	// that have them; empty otherwise.
	ShortName string

	parent    *Node
	children  map[string]*Node
	schildren map[string]*Node

	// FSID is the local filesystem's stable identifier (inode). Zero
	// means unknown. Uniqueness across live nodes is enforced by the
	// FSIDIndex.
	FSID uint64

	// Fingerprint is the local file's content identity (size, mtime,
	// hash), resolved by the scanner.
	Fingerprint fingerprint.Fingerprint

	// Remote is the associated remote node, if any.
	Remote *remote.Node

	// Pending is the staged remote creation while an upload is
	// outstanding.
	Pending *remote.NewNode

	// ScanSeq is the scan generation this node was last seen in; NotSeen
	// counts sweep passes since then.
	ScanSeq int
	NotSeen int

	Deleted  bool // was actively deleted locally
	Created  bool // has been created remotely
	Reported bool // an issue has been reported
	Checked  bool // checked for missing file attributes

	// ts and dts are the current and last-displayed sync states.
	ts, dts TreeState

	// nagle is the debounce deadline before an upload may start.
	nagle time.Time

	// RowID is the local database row id; persisted together with the
	// parent's row id to rebuild the tree on reload.
	RowID int64
}

// NewNode creates a node and links it under parent by name. A nil parent
// makes a sync root.
func NewNode(kind remote.Kind, parent *Node, name string) *Node {
	n := &Node{
		Kind:      kind,
		children:  make(map[string]*Node),
		schildren: make(map[string]*Node),
	}
	n.SetNameParent(parent, name)
	return n
}

// Parent returns the node's parent, or nil for sync roots.
func (n *Node) Parent() *Node {
	return n.parent
}

// ChildByName returns the child with the exact given name, or nil.
// Callers needing legacy short-name matching must also try
// ChildByShortName.
func (n *Node) ChildByName(name string) *Node {
	return n.children[name]
}

// ChildByShortName consults the secondary short-name collection.
func (n *Node) ChildByShortName(name string) *Node {
	return n.schildren[name]
}

// ChildCount returns the number of direct children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// Walk visits n and every descendant, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// SetNode replaces the remote association. The engine maintains the
// reverse (handle → local node) mapping; keeping both sides in one place
// would leave a stale entry if the remote node is destroyed first.
func (n *Node) SetNode(rn *remote.Node) {
	n.Remote = rn
}

// SetNameParent moves the node under a new parent and/or name, detaching
// it from the old parent's child collections first so it is never parented
// twice.
func (n *Node) SetNameParent(parent *Node, name string) {
	if n.parent != nil {
		delete(n.parent.children, n.Name)
		if n.ShortName != "" {
			delete(n.parent.schildren, n.ShortName)
		}
	}
	n.Name = name
	n.parent = parent
	if parent != nil {
		parent.children[name] = n
		if n.ShortName != "" {
			parent.schildren[n.ShortName] = n
		}
	}
}

// SetShortName updates the legacy secondary name and its index entry.
func (n *Node) SetShortName(short string) {
	if n.parent != nil && n.ShortName != "" {
		delete(n.parent.schildren, n.ShortName)
	}
	n.ShortName = short
	if n.parent != nil && short != "" {
		n.parent.schildren[short] = n
	}
}

// LocalPath builds the path of this node from its sync root.
func (n *Node) LocalPath() string {
	if n.parent == nil {
		return n.Name
	}
	return filepath.Join(n.parent.LocalPath(), n.Name)
}

// BumpNagle resets the upload debounce deadline: the upload may not start
// until d elapses with no further local modification.
func (n *Node) BumpNagle(d time.Duration, now time.Time) {
	n.nagle = now.Add(d)
}

// NagleElapsed reports whether the quiet period has passed.
func (n *Node) NagleElapsed(now time.Time) bool {
	return !n.nagle.IsZero() && !now.Before(n.nagle)
}

// ClearNagle disarms the debounce timer.
func (n *Node) ClearNagle() {
	n.nagle = time.Time{}
}

// NaglePending reports whether an upload is waiting on the quiet period.
func (n *Node) NaglePending() bool {
	return !n.nagle.IsZero()
}

// Prepare finalizes the staged creation's parameters just before the
// transfer starts: the target parent handle and the local correlation.
func (n *Node) Prepare() {
	if n.Pending == nil {
		return
	}
	if n.parent != nil && n.parent.Remote != nil {
		n.Pending.ParentHandle = n.parent.Remote.Handle
	}
	n.Pending.LocalRef = n.RowID
	n.Pending.Kind = n.Kind
}

// Completed commits a finished transfer's staged creation: the node is now
// materialized remotely.
func (n *Node) Completed(nn *remote.NewNode) {
	if n.Pending == nn {
		n.Pending = nil
	}
	nn.Added = true
	n.Created = true
}

// AbandonPending drops the staged creation, abandoning any in-flight
// transfer correlated to it.
func (n *Node) AbandonPending() {
	n.Pending = nil
}
