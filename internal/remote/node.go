// Package remote models the remote-filesystem tree: encrypted nodes, their
// attribute maps, the fingerprint index that recognizes duplicate content,
// and the staging records for pending remote creations.
package remote

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mirabelle-sync/mirabelle/internal/crypto"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// Handle is the opaque identifier of a remote node. Zero is never assigned
// by the remote side and stands for "no node".
type Handle uint64

// Undef is the absent handle.
const Undef Handle = 0

// Kind classifies a node.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
	// KindRoot is the top of the account tree.
	KindRoot
	// KindDebris is the root-level trash container deleted nodes are
	// relocated to before final removal.
	KindDebris
)

// IsRootLevel reports whether the kind is a parentless special root.
func (k Kind) IsRootLevel() bool {
	return k == KindRoot || k == KindDebris
}

// Change is a bitset of node facets modified since the node was last
// persisted. Transient: never serialized.
type Change uint16

const (
	ChangeRemoved Change = 1 << iota
	ChangeAttrs
	ChangeOwner
	ChangeCTime
	ChangeFileAttrs
	ChangeInShare
	ChangeOutShares
	ChangePendingShares
	ChangeParent
	ChangePublicLink
	ChangeNew
)

// AccessLevel is the permission granted by a share.
type AccessLevel int

const (
	AccessRead AccessLevel = iota
	AccessReadWrite
	AccessFull
)

// Share records one inbound, outbound or pending share on a node.
type Share struct {
	User   Handle
	Access AccessLevel
}

// AttrMap holds a node's decrypted attributes. "n" is the display name.
type AttrMap map[string]string

// NodeCore carries the fields shared between live nodes and staged
// creations.
type NodeCore struct {
	Handle       Handle
	ParentHandle Handle
	Kind         Kind

	// NodeKey is the node's symmetric key: cooked once it is exactly
	// crypto.KeyLen bytes, otherwise still asymmetrically wrapped.
	NodeKey []byte

	// AttrString is the raw, still-encrypted attribute blob. Cleared
	// once consumed by SetAttr.
	AttrString []byte
}

// KeyCooked reports whether the node key is usable as-is.
func (c *NodeCore) KeyCooked() bool {
	return len(c.NodeKey) == crypto.KeyLen
}

// Node is one entry of the remote tree.
type Node struct {
	NodeCore

	Attrs       AttrMap
	Owner       Handle
	CTime       int64
	FileAttrs   string
	Fingerprint fingerprint.Fingerprint

	InShare       *Share
	OutShares     map[Handle]*Share
	PendingShares map[Handle]*Share
	Link          *PublicLink

	// ForeignKey marks a node whose key could not be resolved; it stays
	// in the tree with unreadable attributes.
	ForeignKey bool

	changed Change

	parent   *Node
	children []*Node

	// fpIndexed guards double insertion into / removal from Fingerprints.
	fpIndexed bool
}

// ErrCycle is returned by Tree.SetParent when the assignment would make a
// node its own ancestor.
var ErrCycle = errors.New("parent assignment would create a cycle")

// Parent returns the node's parent, or nil for roots and orphans.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the node's child list. Callers must not modify it.
func (n *Node) Children() []*Node {
	return n.children
}

// MarkChanged records dirty facets for incremental persistence.
func (n *Node) MarkChanged(c Change) {
	n.changed |= c
}

// HasChanged reports whether any of the given facets are dirty.
func (n *Node) HasChanged(c Change) bool {
	return n.changed&c != 0
}

// ClearChanged resets the dirty bitset after the node is persisted.
func (n *Node) ClearChanged() {
	n.changed = 0
}

// IsBelow reports whether n lives in the subtree rooted at a, walking the
// ancestor chain strictly upward: a node is not below itself.
func (n *Node) IsBelow(a *Node) bool {
	if a == nil {
		return false
	}
	for p := n.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// FirstAncestor follows parent links all the way to the top.
func (n *Node) FirstAncestor() *Node {
	a := n
	for a.parent != nil {
		a = a.parent
	}
	return a
}

// ApplyKey tries to resolve the node key to its cooked form. Nodes whose
// key cannot be resolved are flagged foreign instead of failing the load.
func (n *Node) ApplyKey(c crypto.Cipher) bool {
	if n.KeyCooked() {
		return true
	}
	key, status := c.ResolveKey(n.NodeKey)
	if status != crypto.KeyResolved {
		n.ForeignKey = true
		return false
	}
	n.NodeKey = key
	n.ForeignKey = false
	return true
}

// SetAttr decrypts and parses the raw attribute string, populating the
// attribute map, fingerprint, file-attribute string and owner/ctime
// overrides. The raw string is consumed either way: a node with malformed
// attributes keeps an empty-but-valid map and falls back to its handle for
// display.
func (n *Node) SetAttr(c crypto.Cipher) {
	if n.AttrString == nil {
		return
	}
	if !n.KeyCooked() {
		// key still wrapped; keep the raw blob for a later ApplyKey
		return
	}

	plain, ok := DecryptAttr(c, n.NodeKey, n.AttrString)
	n.AttrString = nil
	if !ok {
		if n.Attrs == nil {
			n.Attrs = AttrMap{}
		}
		return
	}

	parsed := ParseAttr(plain)
	n.Attrs = parsed.Attrs
	n.FileAttrs = parsed.FileAttrs
	if parsed.Owner != Undef {
		n.Owner = parsed.Owner
	}
	if parsed.CTime != 0 {
		n.CTime = parsed.CTime
	}
	if n.Kind == KindFile {
		n.Fingerprint = parsed.Fingerprint
	}
}

// DisplayName returns the decrypted name, or the hex handle while the name
// is unknown or undecryptable.
func (n *Node) DisplayName() string {
	if name, ok := n.Attrs["n"]; ok && name != "" {
		return name
	}
	return strconv.FormatUint(uint64(n.Handle), 16)
}

// DisplayPath builds the path from the node's root, names joined by "/".
func (n *Node) DisplayPath() string {
	var parts []string
	for a := n; a != nil; a = a.parent {
		parts = append(parts, a.DisplayName())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// HasFileAttribute scans the file-attribute string for a type tag and
// returns its position, or -1 if absent. Entries are "type*handle" joined
// by "/".
func (n *Node) HasFileAttribute(typ int) int {
	return HasFileAttribute(n.FileAttrs, typ)
}

// HasFileAttribute is the static form operating on any file-attribute
// string.
func HasFileAttribute(fileattrs string, typ int) int {
	tag := strconv.Itoa(typ) + "*"
	if strings.HasPrefix(fileattrs, tag) {
		return 0
	}
	i := strings.Index(fileattrs, "/"+tag)
	if i < 0 {
		return -1
	}
	return i + 1
}

// SetPublicLink attaches or refreshes the node's shareable-link record.
func (n *Node) SetPublicLink(ctime, etime int64, takenDown bool) {
	n.Link = &PublicLink{CTime: ctime, ETime: etime, TakenDown: takenDown}
	n.MarkChanged(ChangePublicLink)
}

// NodeCounter aggregates a subtree partitioned by node kind.
type NodeCounter struct {
	Files   int
	Folders int
	Bytes   int64
}

// SubnodeCounts tallies the subtree rooted at n, excluding n itself.
func (n *Node) SubnodeCounts() NodeCounter {
	var nc NodeCounter
	for _, child := range n.children {
		sub := child.SubnodeCounts()
		nc.Files += sub.Files
		nc.Folders += sub.Folders
		nc.Bytes += sub.Bytes
		switch child.Kind {
		case KindFile:
			nc.Files++
			if child.Fingerprint.Valid {
				nc.Bytes += child.Fingerprint.Size
			}
		default:
			nc.Folders++
		}
	}
	return nc
}

func (n *Node) detachChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}
