package engine

import (
	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

// RemoteUpdated applies a pushed node creation or mutation. A node
// arriving under a known handle replaces the previous version.
func (e *Engine) RemoteUpdated(n *remote.Node) {
	if err := e.tree.Add(n); err != nil {
		e.log.Warn("applying remote update", zap.Uint64("handle", uint64(n.Handle)), zap.Error(err))
		return
	}
	// the replacing Add destroyed any previous node under this handle;
	// re-point the local association at the replacement
	if l := e.localByNode[n.Handle]; l != nil {
		l.SetNode(n)
	}
	e.updateGauges()
}

// RemoteRemoved applies a pushed removal. Removal always wins over any
// earlier modification for the same handle: whatever state the node was
// in, it is destroyed and every reference to it invalidated. Pending
// pipeline entries for the handle become moot.
func (e *Engine) RemoteRemoved(h remote.Handle) {
	delete(e.removals, h)
	if n := e.tree.Get(h); n != nil {
		e.applyRemoteRemoval(n)
	}
	e.updateGauges()
}

// RemoteMoved applies a pushed reparenting. Cycle-creating moves are
// rejected by the tree and logged; the caller must deliver a corrected
// event.
func (e *Engine) RemoteMoved(h, newParent remote.Handle) {
	n := e.tree.Get(h)
	p := e.tree.Get(newParent)
	if n == nil || p == nil {
		return
	}
	if _, err := e.tree.SetParent(n, p); err != nil {
		e.log.Warn("remote move rejected",
			zap.Uint64("handle", uint64(h)),
			zap.Uint64("parent", uint64(newParent)),
			zap.Error(err))
	}
}
