package remote

import (
	"fmt"

	"github.com/mirabelle-sync/mirabelle/internal/crypto"
)

// Tree owns every remote node, indexed by handle. All parent/child edges
// are maintained here so no mutation can leave the tree half-linked.
type Tree struct {
	cipher       crypto.Cipher
	nodes        map[Handle]*Node
	fingerprints *Fingerprints

	root   *Node
	debris *Node
}

// NewTree creates an empty tree around the given cipher.
func NewTree(c crypto.Cipher) *Tree {
	return &Tree{
		cipher:       c,
		nodes:        make(map[Handle]*Node),
		fingerprints: NewFingerprints(),
	}
}

// Fingerprints exposes the content-identity index kept consistent by Add
// and Remove.
func (t *Tree) Fingerprints() *Fingerprints {
	return t.fingerprints
}

// Get returns the node with the given handle, or nil.
func (t *Tree) Get(h Handle) *Node {
	return t.nodes[h]
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the account root, once added.
func (t *Tree) Root() *Node {
	return t.root
}

// Debris returns the trash container, once added.
func (t *Tree) Debris() *Node {
	return t.debris
}

// Add registers a node, resolves its key and attributes, links it under
// its ParentHandle if that parent is present, and indexes file content.
// A node arriving under an already-used handle replaces the old one; the
// replacement inherits the old node's children, since they reference the
// shared handle.
func (t *Tree) Add(n *Node) error {
	if n.Handle == Undef {
		return fmt.Errorf("node has no handle")
	}
	var inherited []*Node
	if old := t.nodes[n.Handle]; old != nil {
		inherited = old.children
		old.children = nil
		t.evict(old)
	}

	if n.Attrs == nil {
		n.Attrs = AttrMap{}
	}
	n.ApplyKey(t.cipher)
	n.SetAttr(t.cipher)

	t.nodes[n.Handle] = n
	n.MarkChanged(ChangeNew)

	switch n.Kind {
	case KindRoot:
		t.root = n
	case KindDebris:
		t.debris = n
	}

	if p := t.nodes[n.ParentHandle]; p != nil && !n.Kind.IsRootLevel() {
		n.parent = p
		p.children = append(p.children, n)
	}
	// adopt children that arrived before their parent
	for _, c := range t.nodes {
		if c.parent == nil && c.ParentHandle == n.Handle && c != n && !c.Kind.IsRootLevel() {
			c.parent = n
			n.children = append(n.children, c)
		}
	}
	for _, c := range inherited {
		c.parent = n
	}
	n.children = append(n.children, inherited...)

	if n.Kind == KindFile && n.Fingerprint.Valid {
		t.fingerprints.Add(n)
	}
	return nil
}

// SetParent moves n under p, detaching it from its current parent first.
// It reports whether the parent actually changed and rejects assignments
// that would create a cycle, leaving the tree untouched in that case.
func (t *Tree) SetParent(n, p *Node) (bool, error) {
	if n.parent == p {
		return false, nil
	}
	if p != nil && (p == n || p.IsBelow(n)) {
		return false, ErrCycle
	}

	if n.parent != nil {
		n.parent.detachChild(n)
	}
	n.parent = p
	if p != nil {
		p.children = append(p.children, n)
		n.ParentHandle = p.Handle
	} else {
		n.ParentHandle = Undef
	}
	n.MarkChanged(ChangeParent)
	return true, nil
}

// Remove destroys a node: it is detached from its parent, deindexed from
// Fingerprints and dropped from the handle map. Children are not destroyed
// — the remote side reports each descendant's removal explicitly — so they
// are relocated under the debris sentinel (or orphaned if there is none)
// until those events arrive.
func (t *Tree) Remove(n *Node) {
	if t.nodes[n.Handle] != n {
		return
	}
	t.evict(n)

	for _, c := range n.children {
		c.parent = nil
		if t.debris != nil && c != t.debris {
			c.parent = t.debris
			c.ParentHandle = t.debris.Handle
			t.debris.children = append(t.debris.children, c)
			c.MarkChanged(ChangeParent)
		}
	}
	n.children = nil
}

// evict unlinks a node from the tree without touching its children.
func (t *Tree) evict(n *Node) {
	if n.parent != nil {
		n.parent.detachChild(n)
		n.parent = nil
	}
	t.fingerprints.Remove(n)
	delete(t.nodes, n.Handle)
	n.MarkChanged(ChangeRemoved)

	if t.root == n {
		t.root = nil
	}
	if t.debris == n {
		t.debris = nil
	}
}
