// Mirabelle sync daemon
//
// Watches a local directory, mirrors it against the remote node tree and
// exposes Prometheus metrics. The remote API and transfer collaborators
// are injected by the hosting application; this daemon wires the engine,
// watcher and node cache together.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mirabelle-sync/mirabelle/internal/config"
	"github.com/mirabelle-sync/mirabelle/internal/crypto"
	"github.com/mirabelle-sync/mirabelle/internal/engine"
	"github.com/mirabelle-sync/mirabelle/internal/logging"
	"github.com/mirabelle-sync/mirabelle/internal/metrics"
	"github.com/mirabelle-sync/mirabelle/internal/nodecache"
	"github.com/mirabelle-sync/mirabelle/internal/remote"
	"github.com/mirabelle-sync/mirabelle/internal/watcher"
	"github.com/mirabelle-sync/mirabelle/pkg/retry"
)

const tickInterval = time.Second

var errBadMasterKey = errors.New("MASTER_KEY must be 64 hex characters")

func main() {
	cfg, err := config.Load()
	if err != nil {
		// can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()
	log := logging.L()

	log.Info("mirabelle starting",
		zap.String("root", cfg.SyncRoot),
		zap.String("cache", cfg.CachePath),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cipher, err := buildCipher(cfg)
	if err != nil {
		log.Fatal("master key", zap.Error(err))
	}

	store, err := nodecache.Open(cfg.CachePath)
	if err != nil {
		log.Fatal("opening node cache", zap.Error(err))
	}
	defer store.Close()

	tree := remote.NewTree(cipher)
	skipped, err := store.LoadNodes(func(n *remote.Node) {
		if err := tree.Add(n); err != nil {
			log.Warn("cached node rejected", zap.Uint64("handle", uint64(n.Handle)), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("loading node cache", zap.Error(err))
	}
	if skipped > 0 {
		log.Warn("skipped corrupt cache records", zap.Int("count", skipped))
	}
	log.Info("remote tree loaded", zap.Int("nodes", tree.Len()))

	engCfg := engine.DefaultConfig()
	engCfg.NagleDelay = cfg.NagleDelay
	engCfg.NotSeenThreshold = cfg.NotSeenThreshold
	engCfg.Removal = retry.DefaultConfig()
	engCfg.Removal.MaxAttempts = cfg.RemovalAttempts

	// The hosting application supplies real collaborators; stand-alone
	// runs operate the local tree only.
	eng := engine.New(log, engCfg, tree, cipher, engine.NopRemoteAPI{}, engine.NopTransfers{}, cfg.SyncRoot)

	w, err := watcher.New(log, cfg.SyncRoot)
	if err != nil {
		log.Fatal("creating watcher", zap.Error(err))
	}
	defer w.Close()

	eng.BeginScanPass()
	if err := w.Rescan(func(ev engine.ScanEvent) {
		eng.ApplyScan(ctx, ev, time.Now())
	}); err != nil {
		log.Fatal("initial scan", zap.Error(err))
	}
	eng.EndScanPass()

	if err := w.Start(ctx); err != nil {
		log.Fatal("starting watcher", zap.Error(err))
	}

	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			log.Info("shutting down")
			cancel()
			return
		case now := <-ticker.C:
			eng.Tick(ctx, now)
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			eng.ApplyScan(ctx, ev, time.Now())
		}
	}
}

func buildCipher(cfg *config.Config) (*crypto.Secretbox, error) {
	raw, err := hex.DecodeString(cfg.MasterKey)
	if err != nil || len(raw) != crypto.KeyLen {
		return nil, errBadMasterKey
	}
	var master [crypto.KeyLen]byte
	copy(master[:], raw)
	return crypto.NewSecretbox(cfg.ClientID, master), nil
}
