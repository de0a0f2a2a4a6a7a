package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/engine"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
)

func TestRescan(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("hello")
	if err := os.WriteFile(filepath.Join(root, "docs", "a.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(zap.NewNop(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	events := make(map[string]engine.ScanEvent)
	if err := w.Rescan(func(ev engine.ScanEvent) {
		events[ev.Path] = ev
	}); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2: %v", len(events), events)
	}

	dir, ok := events["docs"]
	if !ok || dir.Kind != remote.KindFolder || dir.Op != engine.ScanUpsert {
		t.Errorf("docs event = %+v", dir)
	}
	if dir.FSID == 0 {
		t.Error("directory event missing its filesystem id")
	}

	f, ok := events["docs/a.txt"]
	if !ok || f.Kind != remote.KindFile {
		t.Fatalf("file event = %+v", f)
	}
	if f.Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", f.Size, len(content))
	}
	if !f.Fingerprint.Valid || f.Fingerprint.Size != int64(len(content)) {
		t.Errorf("fingerprint not resolved: %+v", f.Fingerprint)
	}
	if f.FSID == 0 || f.FSID == dir.FSID {
		t.Error("file and directory must carry distinct filesystem ids")
	}
}

func TestRescanEmptyRoot(t *testing.T) {
	w, err := New(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	count := 0
	if err := w.Rescan(func(engine.ScanEvent) { count++ }); err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if count != 0 {
		t.Errorf("emitted %d events from an empty root", count)
	}
}
