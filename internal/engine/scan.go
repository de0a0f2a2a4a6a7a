package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/local"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// ScanOp classifies a filesystem scan event.
type ScanOp int

const (
	// ScanUpsert reports a path that exists (created or modified).
	ScanUpsert ScanOp = iota
	// ScanDelete reports a path that is gone.
	ScanDelete
)

// ScanEvent is one observation from the watch/scan collaborator. Paths
// are slash-separated and relative to the sync root.
type ScanEvent struct {
	Op    ScanOp
	Path  string
	Kind  remote.Kind // KindFile or KindFolder
	FSID  uint64
	Size  int64
	MTime int64

	// Fingerprint is set when the scanner hashed the content.
	Fingerprint fingerprint.Fingerprint
}

// ApplyScan applies one scan event to the local tree. Events for unknown
// parents are dropped; a directory rescan will deliver them again in
// order.
func (e *Engine) ApplyScan(ctx context.Context, ev ScanEvent, now time.Time) {
	dir, name := splitPath(ev.Path)
	parent := e.resolveDir(dir)
	if parent == nil {
		e.log.Debug("scan event for unknown parent", zap.String("path", ev.Path))
		return
	}

	l := parent.ChildByName(name)
	if l == nil {
		l = parent.ChildByShortName(name)
	}

	if ev.Op == ScanDelete {
		if l != nil {
			e.removeLocalSubtree(l)
			e.updateGauges()
		}
		return
	}

	switch {
	case l == nil:
		e.scanNew(ctx, parent, name, ev, now)
	case l.Kind != ev.Kind:
		// the path was replaced in place by an entry of the other kind
		e.removeLocalSubtree(l)
		e.scanNew(ctx, parent, name, ev, now)
	default:
		e.scanExisting(l, ev, now)
	}
	e.updateGauges()
}

// scanNew handles a path the tree does not know. If the reported fsid is
// already claimed by another node, the filesystem entry has moved: the
// claimant is reparented/renamed instead of creating a duplicate.
func (e *Engine) scanNew(ctx context.Context, parent *local.Node, name string, ev ScanEvent, now time.Time) {
	if prev := e.fsids[ev.FSID]; prev != nil && ev.FSID != 0 && prev.Kind == ev.Kind {
		e.log.Debug("move detected by fsid",
			zap.String("from", prev.LocalPath()),
			zap.String("to", parent.LocalPath()+"/"+name),
			zap.Uint64("fsid", ev.FSID))
		e.moveLocal(ctx, prev, parent, name)
		prev.ScanSeq = e.scanSeq
		prev.SetNotSeen(0, e.notseen)
		return
	}

	l := local.NewNode(ev.Kind, parent, name)
	l.RowID = e.allocRow()
	l.SetFSID(ev.FSID, e.fsids)
	l.ScanSeq = e.scanSeq
	l.Fingerprint = fingerprintOf(ev)

	if ev.Kind == remote.KindFile {
		e.stageUpload(l, now)
	} else {
		e.setState(l, local.StatePending)
	}
}

// scanExisting refreshes a known path. An fsid change means the entry was
// overwritten or replaced; content changes re-arm the upload debounce.
func (e *Engine) scanExisting(l *local.Node, ev ScanEvent, now time.Time) {
	l.ScanSeq = e.scanSeq
	l.SetNotSeen(0, e.notseen)

	if ev.FSID != 0 && ev.FSID != l.FSID {
		// overwritten in place; the id moves to this node and the older
		// claimant (if any) loses it
		l.SetFSID(ev.FSID, e.fsids)
	}

	if l.Kind != remote.KindFile {
		return
	}

	fp := fingerprintOf(ev)
	if fp.Valid && !fingerprint.Equal(fp, l.Fingerprint) {
		l.Fingerprint = fp
		e.stageUpload(l, now)
		return
	}
	if l.NaglePending() {
		// still being written; keep coalescing
		l.BumpNagle(e.cfg.NagleDelay, now)
	}
}

// moveLocal applies a detected rename/move: the node keeps its identity,
// associations and pending work, and the remote counterpart is asked to
// follow.
func (e *Engine) moveLocal(ctx context.Context, l *local.Node, parent *local.Node, name string) {
	l.SetNameParent(parent, name)
	e.setState(l, local.StatePending)

	if l.Remote != nil && parent.Remote != nil {
		if err := e.api.Move(ctx, l.Remote.Handle, parent.Remote.Handle, name); err != nil {
			e.log.Warn("remote move", zap.String("path", l.LocalPath()), zap.Error(err))
		}
	}
}

// BeginScanPass opens a new scan generation; events applied until
// EndScanPass stamp nodes with it.
func (e *Engine) BeginScanPass() {
	e.scanSeq++
}

// EndScanPass sweeps nodes the pass did not refresh. A node unseen for
// more than NotSeenThreshold passes is treated as deleted; until then it
// only accrues its not-seen counter, tolerating out-of-order and partial
// rescans.
func (e *Engine) EndScanPass() {
	var stale []*local.Node
	e.root.Walk(func(n *local.Node) {
		if n != e.root && n.ScanSeq != e.scanSeq {
			stale = append(stale, n)
		}
	})
	for _, n := range stale {
		n.SetNotSeen(n.NotSeen+1, e.notseen)
	}

	var gone []*local.Node
	for n := range e.notseen {
		if n.NotSeen > e.cfg.NotSeenThreshold {
			gone = append(gone, n)
		}
	}
	for _, n := range gone {
		e.log.Info("local node vanished", zap.String("path", n.LocalPath()), zap.Int("notseen", n.NotSeen))
		e.removeLocalSubtree(n)
	}
	e.updateGauges()
}

// removeLocalSubtree destroys a local node and its descendants: fsid and
// not-seen entries are dropped, in-flight uploads abandoned, remote
// counterparts queued for removal to debris, and every cross-reference
// invalidated before the nodes are unlinked.
func (e *Engine) removeLocalSubtree(l *local.Node) {
	l.Walk(func(n *local.Node) {
		n.Deleted = true
		n.DropFSID(e.fsids)
		n.SetNotSeen(0, e.notseen)
		n.ClearNagle()
		delete(e.nagled, n)

		if n.Pending != nil {
			e.transfers.Cancel(n.Pending.UploadToken)
			n.AbandonPending()
		}
		if n.Remote != nil {
			e.QueueRemoval(n.Remote.Handle, RemoveToDebris)
			e.Associate(n, nil)
		}
	})
	if p := l.Parent(); p != nil {
		l.SetNameParent(nil, l.Name)
		e.setState(p, p.CheckState())
	}
}
