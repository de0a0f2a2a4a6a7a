package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/crypto"
	"github.com/mirabelle-sync/mirabelle/internal/local"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
	"github.com/mirabelle-sync/mirabelle/pkg/retry"
)

type fakeAPI struct {
	err error

	debris  []remote.Handle
	unlinks []remote.Handle
	puts    [][]*remote.NewNode

	moves []struct {
		h, parent remote.Handle
		name      string
	}
}

func (f *fakeAPI) MoveToDebris(_ context.Context, h remote.Handle) error {
	f.debris = append(f.debris, h)
	return f.err
}

func (f *fakeAPI) Unlink(_ context.Context, h remote.Handle) error {
	f.unlinks = append(f.unlinks, h)
	return f.err
}

func (f *fakeAPI) Move(_ context.Context, h, parent remote.Handle, name string) error {
	f.moves = append(f.moves, struct {
		h, parent remote.Handle
		name      string
	}{h, parent, name})
	return f.err
}

func (f *fakeAPI) PutNodes(_ context.Context, nn []*remote.NewNode) error {
	f.puts = append(f.puts, nn)
	return f.err
}

type fakeTransfers struct {
	err      error
	enqueued []*remote.NewNode
	canceled int
}

func (f *fakeTransfers) Enqueue(nn *remote.NewNode) error {
	f.enqueued = append(f.enqueued, nn)
	return f.err
}

func (f *fakeTransfers) Cancel([remote.UploadTokenLen]byte) {
	f.canceled++
}

func testEngine(t *testing.T) (*Engine, *fakeAPI, *fakeTransfers) {
	t.Helper()
	var master [crypto.KeyLen]byte
	cipher := crypto.NewSecretbox(1, master)

	cfg := DefaultConfig()
	cfg.NagleDelay = 10 * time.Second
	cfg.NotSeenThreshold = 1
	cfg.Removal = retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}

	api := &fakeAPI{}
	tr := &fakeTransfers{}
	eng := New(zap.NewNop(), cfg, remote.NewTree(cipher), cipher, api, tr, "sync")
	return eng, api, tr
}

func contentFP(size int64, fill byte) fingerprint.Fingerprint {
	fp := fingerprint.Fingerprint{Size: size, MTime: 1700000000, Valid: true}
	for i := range fp.Hash {
		fp.Hash[i] = fill
	}
	return fp
}

func fileEvent(path string, fsid uint64, fp fingerprint.Fingerprint) ScanEvent {
	return ScanEvent{Op: ScanUpsert, Path: path, Kind: remote.KindFile, FSID: fsid, Size: fp.Size, MTime: fp.MTime, Fingerprint: fp}
}

func dirEvent(path string, fsid uint64) ScanEvent {
	return ScanEvent{Op: ScanUpsert, Path: path, Kind: remote.KindFolder, FSID: fsid}
}

func TestUploadLifecycle(t *testing.T) {
	eng, api, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("report.pdf", 11, contentFP(100, 0x01)), now)

	l := eng.Root().ChildByName("report.pdf")
	if l == nil {
		t.Fatal("scan did not create the local node")
	}
	if l.Pending == nil || l.Pending.Source != remote.SourceUpload {
		t.Fatalf("staging = %+v, want a staged upload", l.Pending)
	}
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending", l.State())
	}
	if len(tr.enqueued) != 0 {
		t.Fatal("upload must wait out the quiet period")
	}

	// quiet period not over: nothing starts
	eng.Tick(ctx, now.Add(5*time.Second))
	if len(tr.enqueued) != 0 {
		t.Fatal("upload started before the debounce elapsed")
	}

	eng.Tick(ctx, now.Add(11*time.Second))
	if len(tr.enqueued) != 1 {
		t.Fatal("debounced upload never started")
	}
	if l.State() != local.StateSyncing {
		t.Errorf("state = %v, want syncing", l.State())
	}

	nn := tr.enqueued[0]
	var token [remote.UploadTokenLen]byte
	token[0] = 0xaa
	eng.UploadCompleted(ctx, nn, token, now.Add(12*time.Second))
	if len(api.puts) != 1 {
		t.Fatal("completed upload should be committed via PutNodes")
	}
	if nn.UploadToken != token {
		t.Error("completion token not recorded")
	}

	// the creation response materializes the remote node
	key, _ := crypto.NewKey()
	rn := &remote.Node{NodeCore: remote.NodeCore{Handle: 500, Kind: remote.KindFile, NodeKey: key}}
	rn.Attrs = remote.AttrMap{"n": "report.pdf"}
	rn.Fingerprint = contentFP(100, 0x01)
	eng.PutNodesResult([]*remote.NewNode{nn}, []*remote.Node{rn})

	if l.Pending != nil {
		t.Error("staging record should be consumed")
	}
	if l.Remote != rn || eng.LocalByNode(500) != l {
		t.Error("association not established both ways")
	}
	if l.State() != local.StateSynced {
		t.Errorf("state = %v, want synced", l.State())
	}
	if eng.Tree().Fingerprints().Len() != 1 {
		t.Error("committed file should be fingerprint-indexed")
	}
}

func TestDedupCopyInsteadOfUpload(t *testing.T) {
	eng, api, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	fp := contentFP(2048, 0x33)

	// identical content already lives in the account
	key, _ := crypto.NewKey()
	existing := &remote.Node{NodeCore: remote.NodeCore{Handle: 900, Kind: remote.KindFile, NodeKey: key}}
	existing.Attrs = remote.AttrMap{"n": "original.bin"}
	existing.Fingerprint = fp
	if err := eng.Tree().Add(existing); err != nil {
		t.Fatal(err)
	}

	eng.ApplyScan(ctx, fileEvent("copy.bin", 12, fp), now)
	l := eng.Root().ChildByName("copy.bin")
	if l == nil || l.Pending == nil {
		t.Fatal("scan did not stage the creation")
	}
	if l.Pending.Source != remote.SourceCopy {
		t.Fatalf("source = %v, want copy", l.Pending.Source)
	}
	if l.Pending.Handle != 900 {
		t.Errorf("copy source handle = %d, want 900", l.Pending.Handle)
	}

	eng.Tick(ctx, now.Add(11*time.Second))
	if len(tr.enqueued) != 0 {
		t.Error("a dedup copy must not transfer content")
	}
	if len(api.puts) != 1 {
		t.Error("a dedup copy commits directly via PutNodes")
	}
}

func TestMoveDetectedByFSID(t *testing.T) {
	eng, api, _ := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	fp := contentFP(64, 0x05)

	eng.ApplyScan(ctx, dirEvent("a", 1), now)
	eng.ApplyScan(ctx, dirEvent("b", 2), now)
	eng.ApplyScan(ctx, fileEvent("a/f.txt", 42, fp), now)

	l := eng.Root().ChildByName("a").ChildByName("f.txt")
	if l == nil {
		t.Fatal("file not created")
	}

	// give both sides remote counterparts so the move is forwarded
	key, _ := crypto.NewKey()
	rb := &remote.Node{NodeCore: remote.NodeCore{Handle: 20, Kind: remote.KindFolder, NodeKey: key}}
	rb.Attrs = remote.AttrMap{"n": "b"}
	rf := &remote.Node{NodeCore: remote.NodeCore{Handle: 30, Kind: remote.KindFile, NodeKey: key}}
	rf.Attrs = remote.AttrMap{"n": "f.txt"}
	for _, n := range []*remote.Node{rb, rf} {
		if err := eng.Tree().Add(n); err != nil {
			t.Fatal(err)
		}
	}
	eng.Associate(eng.Root().ChildByName("b"), rb)
	eng.Associate(l, rf)

	// same fsid appears at a new path: this is a move, not a new file
	eng.ApplyScan(ctx, fileEvent("b/g.txt", 42, fp), now)

	if eng.Root().ChildByName("a").ChildCount() != 0 {
		t.Error("moved node still under the old parent")
	}
	moved := eng.Root().ChildByName("b").ChildByName("g.txt")
	if moved != l {
		t.Fatal("move must preserve node identity, not create a duplicate")
	}
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending", l.State())
	}
	if len(api.moves) != 1 {
		t.Fatalf("remote move calls = %d, want 1", len(api.moves))
	}
	if m := api.moves[0]; m.h != 30 || m.parent != 20 || m.name != "g.txt" {
		t.Errorf("remote move = %+v", m)
	}
}

func TestScanExistingContentChange(t *testing.T) {
	eng, _, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("f", 5, contentFP(10, 0x01)), now)
	l := eng.Root().ChildByName("f")

	// same content: the armed debounce is pushed out, nothing new staged
	eng.ApplyScan(ctx, fileEvent("f", 5, contentFP(10, 0x01)), now.Add(5*time.Second))
	eng.Tick(ctx, now.Add(11*time.Second))
	if len(tr.enqueued) != 0 {
		t.Fatal("re-bumped debounce should still be waiting")
	}

	// changed content restages and rearms
	eng.ApplyScan(ctx, fileEvent("f", 5, contentFP(20, 0x02)), now.Add(12*time.Second))
	if !fingerprint.Equal(l.Fingerprint, contentFP(20, 0x02)) {
		t.Error("fingerprint not refreshed")
	}
	eng.Tick(ctx, now.Add(23*time.Second))
	if len(tr.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(tr.enqueued))
	}
}

func TestUploadFailedRearms(t *testing.T) {
	eng, _, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("f", 5, contentFP(10, 0x01)), now)
	l := eng.Root().ChildByName("f")

	eng.Tick(ctx, now.Add(11*time.Second))
	if len(tr.enqueued) != 1 {
		t.Fatal("upload did not start")
	}

	eng.UploadFailed(tr.enqueued[0], now.Add(12*time.Second))
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending after failure", l.State())
	}
	eng.Tick(ctx, now.Add(23*time.Second))
	if len(tr.enqueued) != 2 {
		t.Errorf("enqueued = %d, want a second attempt", len(tr.enqueued))
	}
}

func TestSweepRemovesVanishedSubtree(t *testing.T) {
	eng, _, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	fp := contentFP(10, 0x01)

	eng.BeginScanPass()
	eng.ApplyScan(ctx, dirEvent("dir", 1), now)
	eng.ApplyScan(ctx, fileEvent("dir/f", 2, fp), now)
	eng.EndScanPass()

	l := eng.Root().ChildByName("dir").ChildByName("f")
	key, _ := crypto.NewKey()
	rf := &remote.Node{NodeCore: remote.NodeCore{Handle: 70, Kind: remote.KindFile, NodeKey: key}}
	rf.Attrs = remote.AttrMap{"n": "f"}
	if err := eng.Tree().Add(rf); err != nil {
		t.Fatal(err)
	}
	eng.Associate(l, rf)

	// one missed pass: tolerated
	eng.BeginScanPass()
	eng.EndScanPass()
	if eng.Root().ChildByName("dir") == nil {
		t.Fatal("a single missed pass must not delete anything")
	}

	// second missed pass crosses the threshold
	eng.BeginScanPass()
	eng.EndScanPass()
	if eng.Root().ChildByName("dir") != nil {
		t.Fatal("vanished subtree should be removed")
	}
	if eng.PendingRemovals() != 1 {
		t.Errorf("pending removals = %d, want 1", eng.PendingRemovals())
	}
	if l.Remote != nil || eng.LocalByNode(70) != nil {
		t.Error("association must be invalidated on both sides")
	}
	if tr.canceled != 1 {
		t.Errorf("canceled transfers = %d, want 1", tr.canceled)
	}
}

func TestSweepResetOnReappearance(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	fp := contentFP(10, 0x01)

	eng.BeginScanPass()
	eng.ApplyScan(ctx, fileEvent("f", 2, fp), now)
	eng.EndScanPass()

	eng.BeginScanPass()
	eng.EndScanPass() // missed once

	eng.BeginScanPass()
	eng.ApplyScan(ctx, fileEvent("f", 2, fp), now) // seen again
	eng.EndScanPass()

	l := eng.Root().ChildByName("f")
	if l == nil {
		t.Fatal("reappeared node was deleted")
	}
	if l.NotSeen != 0 {
		t.Errorf("NotSeen = %d, want reset to 0", l.NotSeen)
	}
}

func TestScanDeleteRemovesImmediately(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("f", 2, contentFP(10, 0x01)), now)
	eng.ApplyScan(ctx, ScanEvent{Op: ScanDelete, Path: "f"}, now)
	if eng.Root().ChildByName("f") != nil {
		t.Error("explicit delete should remove the node at once")
	}
}

func TestScanUnknownParentDropped(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("nowhere/f", 2, contentFP(10, 0x01)), now)
	if eng.Root().ChildCount() != 0 {
		t.Error("event under an unknown parent must be dropped")
	}
}

func TestEnqueueFailureRetries(t *testing.T) {
	eng, _, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	tr.err = errors.New("transfer layer down")

	eng.ApplyScan(ctx, fileEvent("f", 2, contentFP(10, 0x01)), now)
	l := eng.Root().ChildByName("f")
	eng.Tick(ctx, now.Add(11*time.Second))
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending after enqueue failure", l.State())
	}

	// the rejection re-armed the debounce: a later tick tries again
	tr.err = nil
	eng.Tick(ctx, now.Add(22*time.Second))
	if len(tr.enqueued) != 2 {
		t.Fatalf("enqueued = %d, want a retried attempt", len(tr.enqueued))
	}
	if l.State() != local.StateSyncing {
		t.Errorf("state = %v, want syncing after the retry", l.State())
	}
}

func TestCopyCommitFailureRetries(t *testing.T) {
	eng, api, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	fp := contentFP(2048, 0x33)

	key, _ := crypto.NewKey()
	existing := &remote.Node{NodeCore: remote.NodeCore{Handle: 900, Kind: remote.KindFile, NodeKey: key}}
	existing.Attrs = remote.AttrMap{"n": "original.bin"}
	existing.Fingerprint = fp
	if err := eng.Tree().Add(existing); err != nil {
		t.Fatal(err)
	}

	api.err = errors.New("server busy")
	eng.ApplyScan(ctx, fileEvent("copy.bin", 12, fp), now)
	l := eng.Root().ChildByName("copy.bin")

	eng.Tick(ctx, now.Add(11*time.Second))
	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(api.puts))
	}
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending after commit failure", l.State())
	}

	api.err = nil
	eng.Tick(ctx, now.Add(22*time.Second))
	if len(api.puts) != 2 {
		t.Fatalf("puts = %d, want the commit retried", len(api.puts))
	}
	if len(tr.enqueued) != 0 {
		t.Error("a dedup copy must never transfer content, even on retry")
	}
	if l.State() != local.StateSyncing {
		t.Errorf("state = %v, want syncing", l.State())
	}
}

func TestCommitFailureAfterUploadRetriesWithoutReupload(t *testing.T) {
	eng, api, tr := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("f", 2, contentFP(10, 0x01)), now)
	l := eng.Root().ChildByName("f")
	eng.Tick(ctx, now.Add(11*time.Second))
	if len(tr.enqueued) != 1 {
		t.Fatal("upload did not start")
	}

	// content stored, but the commit is rejected
	api.err = errors.New("server busy")
	var token [remote.UploadTokenLen]byte
	token[0] = 0xbb
	eng.UploadCompleted(ctx, tr.enqueued[0], token, now.Add(12*time.Second))
	if len(api.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(api.puts))
	}
	if l.State() != local.StatePending {
		t.Errorf("state = %v, want pending after commit failure", l.State())
	}

	api.err = nil
	eng.Tick(ctx, now.Add(23*time.Second))
	if len(api.puts) != 2 {
		t.Fatal("commit was never retried")
	}
	if len(tr.enqueued) != 1 {
		t.Error("retrying the commit must not re-upload the content")
	}
	if l.State() != local.StateSyncing {
		t.Errorf("state = %v, want syncing", l.State())
	}
}

func TestScanKindChangeReplacesNode(t *testing.T) {
	eng, _, _ := testEngine(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	eng.ApplyScan(ctx, fileEvent("x", 5, contentFP(10, 0x01)), now)
	old := eng.Root().ChildByName("x")

	key, _ := crypto.NewKey()
	rn := &remote.Node{NodeCore: remote.NodeCore{Handle: 60, Kind: remote.KindFile, NodeKey: key}}
	rn.Attrs = remote.AttrMap{"n": "x"}
	if err := eng.Tree().Add(rn); err != nil {
		t.Fatal(err)
	}
	eng.Associate(old, rn)

	// the file was replaced in place by a directory of the same name
	eng.ApplyScan(ctx, dirEvent("x", 6), now)

	repl := eng.Root().ChildByName("x")
	if repl == old {
		t.Fatal("kind change must replace the node, not refresh it")
	}
	if repl.Kind != remote.KindFolder {
		t.Errorf("kind = %v, want folder", repl.Kind)
	}
	if !old.Deleted || old.Remote != nil {
		t.Error("stale node should be torn down")
	}
	if eng.PendingRemovals() != 1 {
		t.Errorf("pending removals = %d, want the stale remote queued", eng.PendingRemovals())
	}
}
