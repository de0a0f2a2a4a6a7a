package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/metrics"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/retry"
)

// RemovalMode discriminates the two target behaviors of a pending
// removal: soft-delete into the debris container, or hard unlink.
type RemovalMode int

const (
	RemoveToDebris RemovalMode = iota
	RemoveUnlink
)

func (m RemovalMode) String() string {
	if m == RemoveUnlink {
		return "unlink"
	}
	return "debris"
}

// RemovalState is a pending removal's position in the pipeline.
type RemovalState int

const (
	// RemovalQueued means the intent has not been accepted yet.
	RemovalQueued RemovalState = iota
	// RemovalConfirmed means the remote side acknowledged it.
	RemovalConfirmed
)

type pendingRemoval struct {
	handle  remote.Handle
	mode    RemovalMode
	state   RemovalState
	backoff *retry.Backoff
}

// QueueRemoval enters a remote node into the removal pipeline. Re-queueing
// an already-pending handle upgrades debris to unlink but never downgrades.
func (e *Engine) QueueRemoval(h remote.Handle, mode RemovalMode) {
	if p, ok := e.removals[h]; ok {
		if mode == RemoveUnlink {
			p.mode = RemoveUnlink
		}
		return
	}
	e.removals[h] = &pendingRemoval{
		handle:  h,
		mode:    mode,
		backoff: retry.NewBackoff(e.cfg.Removal),
	}
}

// PendingRemovals returns the number of nodes still in the pipeline.
func (e *Engine) PendingRemovals() int {
	return len(e.removals)
}

// processRemovals issues due removal intents. Failures are re-queued with
// backoff until the attempt budget runs out; a node stuck past the budget
// is surfaced in the log rather than silently dropped.
func (e *Engine) processRemovals(ctx context.Context, now time.Time) {
	for h, p := range e.removals {
		if p.state != RemovalQueued || !p.backoff.Ready(now) {
			continue
		}

		var err error
		switch p.mode {
		case RemoveUnlink:
			err = e.api.Unlink(ctx, h)
		default:
			err = e.api.MoveToDebris(ctx, h)
		}

		if err != nil {
			metrics.RecordRemovalRetry(p.mode.String())
			if !p.backoff.Fail(now) {
				e.log.Error("removal abandoned after retries",
					zap.Uint64("handle", uint64(h)),
					zap.String("mode", p.mode.String()),
					zap.Int("attempts", p.backoff.Attempts()),
					zap.Error(err))
				delete(e.removals, h)
			}
			continue
		}

		p.state = RemovalConfirmed
		delete(e.removals, h)
		if n := e.tree.Get(h); n != nil {
			e.applyRemoteRemoval(n)
		}
	}
	e.updateGauges()
}

// applyRemoteRemoval destroys a remote node after its removal is
// confirmed (by our own pipeline or by a server-pushed event), detaching
// it from the tree and invalidating the local association.
func (e *Engine) applyRemoteRemoval(n *remote.Node) {
	if l := e.localByNode[n.Handle]; l != nil {
		l.SetNode(nil)
		delete(e.localByNode, n.Handle)
	}
	e.tree.Remove(n)
}
