package remote

import (
	"github.com/google/btree"

	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

const fingerprintDegree = 16

// Fingerprints is the ordered content-identity index: it maps fingerprints
// to file nodes, admits true duplicates, and keeps a running total of the
// indexed bytes. Insertion and removal are O(log n).
type Fingerprints struct {
	index    *btree.BTreeG[*Node]
	sumSizes int64
}

// NewFingerprints creates an empty index.
func NewFingerprints() *Fingerprints {
	less := func(a, b *Node) bool {
		if c := fingerprint.Compare(a.Fingerprint, b.Fingerprint); c != 0 {
			return c < 0
		}
		// stable tie-break among duplicates
		return a.Handle < b.Handle
	}
	return &Fingerprints{index: btree.NewG(fingerprintDegree, less)}
}

// Add indexes a file node under its resolved fingerprint. Nodes without a
// valid fingerprint, non-files and already-indexed nodes are ignored.
func (f *Fingerprints) Add(n *Node) {
	if n.Kind != KindFile || !n.Fingerprint.Valid || n.fpIndexed {
		return
	}
	f.index.ReplaceOrInsert(n)
	n.fpIndexed = true
	f.sumSizes += n.Fingerprint.Size
}

// NewNode assigns a freshly computed fingerprint to the node and indexes
// it. Used when a local scan resolves a file's content identity for the
// first time.
func (f *Fingerprints) NewNode(n *Node, fp fingerprint.Fingerprint) {
	f.Remove(n)
	n.Fingerprint = fp
	f.Add(n)
}

// Remove deindexes a node. No-op if it was never indexed.
func (f *Fingerprints) Remove(n *Node) {
	if !n.fpIndexed {
		return
	}
	f.index.Delete(n)
	n.fpIndexed = false
	f.sumSizes -= n.Fingerprint.Size
}

// NodeByFingerprint returns any one node whose fingerprint equals fp,
// or nil.
func (f *Fingerprints) NodeByFingerprint(fp fingerprint.Fingerprint) *Node {
	var found *Node
	f.ascend(fp, func(n *Node) bool {
		found = n
		return false
	})
	return found
}

// NodesByFingerprint returns every node sharing fp, in index order.
func (f *Fingerprints) NodesByFingerprint(fp fingerprint.Fingerprint) []*Node {
	var nodes []*Node
	f.ascend(fp, func(n *Node) bool {
		nodes = append(nodes, n)
		return true
	})
	return nodes
}

// SumSizes returns the running total of indexed node sizes.
func (f *Fingerprints) SumSizes() int64 {
	return f.sumSizes
}

// Len returns the number of indexed nodes.
func (f *Fingerprints) Len() int {
	return f.index.Len()
}

// Clear drops the whole index, resetting each node's membership.
func (f *Fingerprints) Clear() {
	f.index.Ascend(func(n *Node) bool {
		n.fpIndexed = false
		return true
	})
	f.index.Clear(false)
	f.sumSizes = 0
}

// ascend visits nodes with fingerprints equal to fp until fn returns
// false.
func (f *Fingerprints) ascend(fp fingerprint.Fingerprint, fn func(*Node) bool) {
	if !fp.Valid {
		return
	}
	pivot := &Node{Fingerprint: fp}
	f.index.AscendGreaterOrEqual(pivot, func(n *Node) bool {
		if fingerprint.Compare(n.Fingerprint, fp) != 0 {
			return false
		}
		return fn(n)
	})
}
