// Package watcher adapts the filesystem-notification backend into the
// scan events the engine consumes. It owns no tree state: it stats paths,
// captures filesystem ids and content fingerprints, and hands everything
// to the engine as events.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mirabelle-sync/mirabelle/internal/engine"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/pkg/fingerprint"
)

// Watcher watches a sync root and emits scan events.
type Watcher struct {
	log  *zap.Logger
	root string

	fw     *fsnotify.Watcher
	events chan engine.ScanEvent
}

// New creates a watcher for the given sync root.
func New(log *zap.Logger, root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		log:    log,
		root:   root,
		fw:     fw,
		events: make(chan engine.ScanEvent, 256),
	}, nil
}

// Events returns the scan event stream.
func (w *Watcher) Events() <-chan engine.ScanEvent {
	return w.events
}

// Start registers watches for the root and every subdirectory, then
// translates notifications until the context is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchRecursive(w.root); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

// Rescan walks the whole root and emits an upsert for every entry. The
// caller brackets it with the engine's scan-pass markers so unvisited
// nodes age toward deletion.
func (w *Watcher) Rescan(emit func(engine.ScanEvent)) error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are picked up next pass
		}
		if path == w.root {
			return nil
		}
		if ev, ok := w.statEvent(path); ok {
			emit(ev)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("fs watch error", zap.Error(err))
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}

	switch {
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// a rename destination arrives as a separate Create; its fsid
		// will identify it as a move
		w.emit(ctx, engine.ScanEvent{Op: engine.ScanDelete, Path: filepath.ToSlash(rel)})
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		scan, ok := w.statEvent(ev.Name)
		if !ok {
			return
		}
		if scan.Kind == remote.KindFolder && ev.Op&fsnotify.Create != 0 {
			if err := w.watchRecursive(ev.Name); err != nil {
				w.log.Warn("watching new directory", zap.String("path", ev.Name), zap.Error(err))
			}
		}
		w.emit(ctx, scan)
	}
}

func (w *Watcher) emit(ctx context.Context, ev engine.ScanEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// statEvent builds an upsert event from a stat of the path, including the
// filesystem id and, for files, the content fingerprint.
func (w *Watcher) statEvent(path string) (engine.ScanEvent, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return engine.ScanEvent{}, false
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return engine.ScanEvent{}, false
	}

	ev := engine.ScanEvent{
		Op:    engine.ScanUpsert,
		Path:  filepath.ToSlash(rel),
		FSID:  st.Ino,
		Size:  st.Size,
		MTime: int64(st.Mtim.Sec),
		Kind:  remote.KindFile,
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		ev.Kind = remote.KindFolder
		return ev, true
	}

	f, err := os.Open(path)
	if err != nil {
		return ev, true // fingerprint resolved on a later pass
	}
	defer f.Close()
	if fp, err := fingerprint.Of(f, ev.Size, ev.MTime); err == nil {
		ev.Fingerprint = fp
	}
	return ev, true
}

func (w *Watcher) watchRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}
