package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropbin/internal/blob"
	"dropbin/internal/config"
	"dropbin/internal/db"
	"dropbin/internal/drop"
	"dropbin/internal/server"
	"dropbin/internal/store"
)

func main() {
	cfg, err := config.Load(getenvDefault("DROPBIN_CONFIG", "dropbin.toml"))
	if err != nil {
		log.Printf("service=dropbin msg=%q err=%v", "config_invalid", err)
		os.Exit(1)
	}

	build := server.BuildInfo{
		Version: getenvDefault("DROPBIN_VERSION", "dev"),
		Commit:  getenvDefault("DROPBIN_COMMIT", "unknown"),
	}

	// Database
	pool, err := db.Open(cfg.Database.URL)
	if err != nil {
		log.Printf("service=dropbin msg=%q err=%v", "db_connect_failed", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	log.Printf("service=dropbin msg=%q", "running_migrations")
	if err := db.RunMigrations(pool); err != nil {
		log.Printf("service=dropbin msg=%q err=%v", "migration_failed", err)
		os.Exit(1)
	}
	log.Printf("service=dropbin msg=%q", "migrations_complete")

	// Blob store
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
	})
	if err != nil {
		log.Printf("service=dropbin msg=%q err=%v", "blob_connect_failed", err)
		os.Exit(1)
	}

	limits, err := cfg.EngineLimits()
	if err != nil {
		log.Printf("service=dropbin msg=%q err=%v", "config_invalid", err)
		os.Exit(1)
	}

	engine := drop.NewEngine(store.New(pool), blobs, nil, limits)

	// Expiry sweeper
	sweepInterval, _ := cfg.SweepInterval()
	sweeper := drop.NewSweeper(engine, drop.SweeperConfig{
		Enabled:  cfg.SweepEnabled(),
		Interval: sweepInterval,
	})
	sweeper.Start(ctx)

	// Orphan reconciliation, far less frequent than the sweep.
	reconcileInterval, _ := cfg.ReconcileInterval()
	go runReconcileLoop(ctx, engine, reconcileInterval)

	maxUpload, _ := cfg.MaxUploadBytes()
	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		BaseURL:        cfg.Server.BaseURL,
		BehindProxy:    cfg.Server.BehindProxy,
		MaxUploadBytes: maxUpload,
		Build:          build,
		Engine:         engine,
		DBPing:         pool.PingContext,
		BlobPing:       blobs.Ping,
	})

	// Start the HTTP server in a background goroutine so we can listen
	// for OS signals while it runs.
	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=dropbin msg=%q addr=%s version=%s commit=%s",
			"starting", cfg.Server.Addr, build.Version, build.Commit)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("service=dropbin msg=%q signal=%s", "shutting_down", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("service=dropbin msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		cancel()
		sweeper.Wait()
		log.Printf("service=dropbin msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=dropbin msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

func runReconcileLoop(ctx context.Context, engine *drop.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := engine.Reconcile(ctx)
			if err != nil {
				log.Printf("service=dropbin msg=%q err=%v", "reconcile_failed", err)
				continue
			}
			if removed > 0 {
				log.Printf("service=dropbin msg=%q removed=%d", "reconcile_complete", removed)
			}
		}
	}
}

// getenvDefault reads an environment variable and returns a default
// value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
