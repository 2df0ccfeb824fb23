package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"virtmcp/internal/config"
	"virtmcp/pkg/logging"
)

// runServer syncs the registry, starts the config watcher and the optional
// metrics listener, then serves MCP.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
func runServer(ctx context.Context, cfg *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer services.Close()

	syncRegistry(ctx, cfg.Settings.Timeouts.Default, services)

	if watcher := startWatcher(cfg.ConfigPath, services); watcher != nil {
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.Server.Serve(gctx)
	})
	if addr := cfg.Settings.Metrics.Address; addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, addr, services.Metrics.Handler())
		})
	}

	err := g.Wait()
	logging.Info("Server", "Shut down")
	return err
}

// syncRegistry populates the registries. Failures are logged only: the
// server still starts and later calls report NotFound until a list or
// create repopulates the registry.
func syncRegistry(ctx context.Context, timeout time.Duration, services *Services) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := services.VirtualBox.Sync(ctx); err != nil {
		logging.Warn("Bootstrap", "Initial VirtualBox sync failed: %v", err)
	} else {
		logging.Info("Bootstrap", "Registered %d VirtualBox VMs", len(services.VirtualBox.Registry().Names()))
	}
	if services.HyperV != nil {
		if err := services.HyperV.Sync(ctx); err != nil {
			logging.Warn("Bootstrap", "Initial Hyper-V sync failed: %v", err)
		}
	}
}

func startWatcher(configPath string, services *Services) *config.Watcher {
	if configPath == "" {
		return nil
	}
	if info, err := os.Stat(configPath); err != nil || !info.IsDir() {
		logging.Debug("Bootstrap", "Config directory %s does not exist, not watching", configPath)
		return nil
	}
	w := config.NewWatcher(config.WatcherConfig{
		ConfigPath: configPath,
		OnChange:   services.ApplyConfig,
	})
	if err := w.Start(); err != nil {
		logging.Warn("Bootstrap", "Config hot reload disabled: %v", err)
		return nil
	}
	return w
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Metrics", "Serving metrics on http://%s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
