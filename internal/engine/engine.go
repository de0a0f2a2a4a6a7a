// Package engine drives the dual-tree sync model: it applies filesystem
// scan events to the local tree, remote events to the remote tree, and
// keeps every cross-reference between them consistent.
//
// All mutations happen on the goroutine calling the engine's methods;
// collaborators return control immediately and deliver their results as
// later events. The trees are never observed mid-mutation.
package engine

import (
	"context"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/crypto"
	"github.com/mirabelle-sync/mirabelle/internal/local"
	"github.com/mirabelle-sync/mirabelle/internal/metrics"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
	"github.com/mirabelle-sync/mirabelle/pkg/retry"
)

// RemoteAPI is the narrow interface to the remote side. Calls issue
// intents; rejections come back as errors and are retried by the engine's
// own pipeline where the operation supports it.
type RemoteAPI interface {
	// MoveToDebris relocates a node into the account's trash container.
	MoveToDebris(ctx context.Context, h remote.Handle) error
	// Unlink permanently removes a node.
	Unlink(ctx context.Context, h remote.Handle) error
	// Move reparents (and possibly renames) a node.
	Move(ctx context.Context, h, newParent remote.Handle, name string) error
	// PutNodes commits staged creations.
	PutNodes(ctx context.Context, nn []*remote.NewNode) error
}

// Transfers is the upload subsystem. Completion arrives later via
// Engine.UploadCompleted / UploadFailed.
type Transfers interface {
	Enqueue(nn *remote.NewNode) error
	Cancel(token [remote.UploadTokenLen]byte)
}

// Config holds the engine's tunables.
type Config struct {
	// NagleDelay is the quiet period after the last local modification
	// before an upload may start.
	NagleDelay time.Duration

	// NotSeenThreshold is how many sweep passes a node may go unseen
	// before it is treated as deleted.
	NotSeenThreshold int

	// Removal bounds the remote-removal retry pipeline.
	Removal retry.Config
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		NagleDelay:       11 * time.Second,
		NotSeenThreshold: 2,
		Removal:          retry.DefaultConfig(),
	}
}

// Engine owns one sync job's state: the remote tree, the local mirror
// rooted at Root, and every index tying them together.
type Engine struct {
	log *zap.Logger
	cfg Config

	tree *remote.Tree
	root *local.Node

	cipher crypto.Cipher
	sealer *crypto.Secretbox

	api       RemoteAPI
	transfers Transfers

	// Cross-reference state, owned here and invalidated synchronously
	// when either side of a reference is destroyed.
	fsids       local.FSIDIndex
	notseen     local.NotSeenSet
	localByNode map[remote.Handle]*local.Node

	// scan-generation mark-and-sweep
	scanSeq int

	// unified pending-removal pipeline (debris vs unlink)
	removals map[remote.Handle]*pendingRemoval

	// nodes waiting out the upload debounce
	nagled map[*local.Node]struct{}

	nextRow int64
}

// New creates an engine for one sync job. rootName is the display name of
// the local sync root.
func New(log *zap.Logger, cfg Config, tree *remote.Tree, cipher *crypto.Secretbox, api RemoteAPI, transfers Transfers, rootName string) *Engine {
	e := &Engine{
		log:         log,
		cfg:         cfg,
		tree:        tree,
		cipher:      cipher,
		sealer:      cipher,
		api:         api,
		transfers:   transfers,
		fsids:       make(local.FSIDIndex),
		notseen:     make(local.NotSeenSet),
		localByNode: make(map[remote.Handle]*local.Node),
		removals:    make(map[remote.Handle]*pendingRemoval),
		nagled:      make(map[*local.Node]struct{}),
		nextRow:     1,
	}
	e.root = local.NewNode(remote.KindFolder, nil, rootName)
	e.root.RowID = e.allocRow()
	return e
}

// Root returns the local sync root.
func (e *Engine) Root() *local.Node {
	return e.root
}

// Tree returns the remote tree.
func (e *Engine) Tree() *remote.Tree {
	return e.tree
}

// LocalByNode resolves a remote handle to its associated local node.
func (e *Engine) LocalByNode(h remote.Handle) *local.Node {
	return e.localByNode[h]
}

func (e *Engine) allocRow() int64 {
	row := e.nextRow
	e.nextRow++
	return row
}

// Associate links a local node with its remote counterpart, replacing any
// previous association on either side.
func (e *Engine) Associate(l *local.Node, n *remote.Node) {
	if l.Remote != nil {
		delete(e.localByNode, l.Remote.Handle)
	}
	l.SetNode(n)
	if n != nil {
		e.localByNode[n.Handle] = l
	}
}

// resolveDir walks a slash-separated directory path from the root,
// creating no nodes: unknown components return nil.
func (e *Engine) resolveDir(dir string) *local.Node {
	n := e.root
	if dir == "." || dir == "" || dir == "/" {
		return n
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		child := n.ChildByName(part)
		if child == nil {
			child = n.ChildByShortName(part)
		}
		if child == nil {
			return nil
		}
		n = child
	}
	return n
}

// updateGauges refreshes the tree-size metrics after a mutation batch.
func (e *Engine) updateGauges() {
	metrics.SetRemoteNodes(int64(e.tree.Len()))
	metrics.SetFingerprintBytes(e.tree.Fingerprints().SumSizes())
	count := 0
	e.root.Walk(func(*local.Node) { count++ })
	metrics.SetLocalNodes(int64(count))
}

// setState applies a sync-state change and records the displayed-state
// updates it propagated.
func (e *Engine) setState(l *local.Node, st local.TreeState) {
	for _, changed := range l.SetTreeState(st) {
		metrics.RecordStateChange(changed.DisplayedState().String())
	}
}

// stageUpload prepares a staged creation for a locally new or modified
// file and arms the debounce timer. If identical content already exists
// remotely the upload is skipped in favor of a server-side copy.
func (e *Engine) stageUpload(l *local.Node, now time.Time) {
	if l.Kind != remote.KindFile || !l.Fingerprint.Valid {
		return
	}

	nn := &remote.NewNode{Source: remote.SourceUpload, SyncID: 0, LocalRef: l.RowID}
	nn.Kind = remote.KindFile

	if dup := e.tree.Fingerprints().NodeByFingerprint(l.Fingerprint); dup != nil {
		// identical content is already in the account: copy, no upload
		nn.Source = remote.SourceCopy
		nn.Handle = dup.Handle
		nn.NodeKey = dup.NodeKey
		metrics.RecordDedupCopy()
	} else if err := e.sealNewNode(nn, l); err != nil {
		e.log.Warn("staging upload", zap.String("path", l.LocalPath()), zap.Error(err))
		return
	}

	if l.Remote != nil {
		nn.OVHandle = l.Remote.Handle
	}

	l.Pending = nn
	l.BumpNagle(e.cfg.NagleDelay, now)
	e.nagled[l] = struct{}{}
	e.setState(l, local.StatePending)
}

// sealNewNode generates the staged node's key and encrypted attributes.
func (e *Engine) sealNewNode(nn *remote.NewNode, l *local.Node) error {
	key, err := crypto.NewKey()
	if err != nil {
		return err
	}
	plain, err := remote.EncodeAttr(remote.AttrMap{"n": l.Name}, l.Fingerprint, "", remote.Undef, 0)
	if err != nil {
		return err
	}
	attr, err := e.sealer.EncryptAttr(key, plain)
	if err != nil {
		return err
	}
	nn.NodeKey = key
	nn.AttrString = attr
	return nil
}

// Tick advances time-driven work: debounced uploads whose quiet period
// elapsed, and removal retries that are due.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	for l := range e.nagled {
		if !l.NagleElapsed(now) {
			continue
		}
		l.ClearNagle()
		delete(e.nagled, l)
		e.startUpload(ctx, l, now)
	}
	e.processRemovals(ctx, now)
}

var noToken [remote.UploadTokenLen]byte

// startUpload hands a quiesced staged creation to the transfer layer, or
// commits it directly when no content transfer is needed (dedup copy, or a
// finished upload whose commit failed earlier). Transient rejections
// re-arm the debounce so the intent is retried on a later tick.
func (e *Engine) startUpload(ctx context.Context, l *local.Node, now time.Time) {
	nn := l.Pending
	if nn == nil || l.Deleted {
		return
	}
	l.Prepare()

	if nn.Source == remote.SourceCopy || nn.UploadToken != noToken {
		if err := e.api.PutNodes(ctx, []*remote.NewNode{nn}); err != nil {
			e.log.Warn("putnodes", zap.String("path", l.LocalPath()), zap.Error(err))
			e.requeue(l, now)
			return
		}
		e.setState(l, local.StateSyncing)
		return
	}

	if err := e.transfers.Enqueue(nn); err != nil {
		e.log.Warn("enqueue upload", zap.String("path", l.LocalPath()), zap.Error(err))
		e.requeue(l, now)
		return
	}
	metrics.RecordUploadStart()
	e.setState(l, local.StateSyncing)
}

// UploadCompleted is called by the transfer collaborator once content is
// stored; the staged creation is then committed remotely. A failed commit
// keeps the token, so the retry commits without re-uploading.
func (e *Engine) UploadCompleted(ctx context.Context, nn *remote.NewNode, token [remote.UploadTokenLen]byte, now time.Time) {
	nn.UploadToken = token
	if err := e.api.PutNodes(ctx, []*remote.NewNode{nn}); err != nil {
		e.log.Warn("putnodes after upload", zap.Int64("localref", nn.LocalRef), zap.Error(err))
		e.UploadFailed(nn, now)
	}
}

// UploadFailed re-queues the staged creation for a later attempt.
func (e *Engine) UploadFailed(nn *remote.NewNode, now time.Time) {
	l := e.localByRow(nn.LocalRef)
	if l == nil || l.Pending != nn {
		return
	}
	e.requeue(l, now)
}

// requeue re-arms the upload debounce for a staged creation whose intent
// did not go through.
func (e *Engine) requeue(l *local.Node, now time.Time) {
	l.BumpNagle(e.cfg.NagleDelay, now)
	e.nagled[l] = struct{}{}
	e.setState(l, local.StatePending)
}

// PutNodesResult commits a creation response: the new remote nodes join
// the tree and their staged records are consumed.
func (e *Engine) PutNodesResult(staged []*remote.NewNode, nodes []*remote.Node) {
	for _, n := range nodes {
		if err := e.tree.Add(n); err != nil {
			e.log.Warn("adding committed node", zap.Uint64("handle", uint64(n.Handle)), zap.Error(err))
		}
	}
	for i, nn := range staged {
		l := e.localByRow(nn.LocalRef)
		if l == nil {
			continue
		}
		l.Completed(nn)
		if i < len(nodes) {
			e.Associate(l, nodes[i])
		}
		e.setState(l, local.StateSynced)
	}
	e.updateGauges()
}

// localByRow finds a local node by its database row id.
func (e *Engine) localByRow(row int64) *local.Node {
	var found *local.Node
	e.root.Walk(func(n *local.Node) {
		if n.RowID == row {
			found = n
		}
	})
	return found
}

// fingerprintOf builds a fingerprint from scan-event metadata.
func fingerprintOf(ev ScanEvent) fingerprint.Fingerprint {
	if ev.Fingerprint.Valid {
		return ev.Fingerprint
	}
	return fingerprint.Fingerprint{}
}

// splitPath separates a slash-separated scan path into directory and name.
func splitPath(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	return path.Dir(p), path.Base(p)
}
