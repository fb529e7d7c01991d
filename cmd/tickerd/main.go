// tickerd is the external ticker collaborator (spec §1, §6): a process
// separate from temporad that advances the shared persisted state by one
// tick per interval. It bootstraps its own engine.Engine against the same
// SnapshotStore temporad uses, exactly as the reference implementation's
// Ticker Service instantiates its own Server() against the shared SQLite
// database rather than sharing memory with the API process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tempora-project/tempora/internal/config"
	domaininterfaces "github.com/tempora-project/tempora/internal/domain/interfaces"
	"github.com/tempora-project/tempora/internal/engine"
	"github.com/tempora-project/tempora/internal/snapshot"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (shared with temporad)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal("building snapshot store", zap.Error(err))
	}

	masterKey := engine.DeriveMasterKey([]byte(cfg.MasterKeyMaterial))
	eng, err := engine.Bootstrap(ctx, store, masterKey[:])
	if err != nil {
		log.Fatal("bootstrapping engine", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runTicker(gctx, eng, cfg.TickInterval, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("tickerd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (domaininterfaces.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case "postgres":
		return snapshot.NewPostgresStore(ctx, cfg.PostgresDSN)
	case "file", "":
		return snapshot.NewFileStore(cfg.SnapshotPath), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

// runTicker advances eng by one tick per interval until ctx is canceled.
// Per-tick errors are logged and do not stop the loop, mirroring the
// reference ticker's try/except-and-continue behavior.
func runTicker(ctx context.Context, eng *engine.Engine, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	current, _ := eng.Status()
	log.Info("ticker started", zap.Uint64("current_tick", uint64(current)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.Tick(ctx); err != nil {
				log.Warn("tick error", zap.Error(err))
				continue
			}
		}
	}
}
