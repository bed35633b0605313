package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ganancias/internal/app"
	"ganancias/internal/cli"
	apphttp "ganancias/internal/http"
	"ganancias/internal/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, logger := cli.Bootstrap()
	logger.Info("Starting ganancias",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"api_url", cfg.APIURL)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("Failed to initialize application", log.FieldError, err)
		return 1
	}

	// the broker is optional: a failed connection leaves the app local-only
	if err := a.EnableFeed(ctx); err != nil {
		logger.Warn("Change feed unavailable, continuing without it", log.FieldError, err)
	}
	if err := a.StartSyncLoop(ctx); err != nil {
		logger.Error("Failed to start sync loop", log.FieldError, err)
	}

	srv := apphttp.NewServer(":"+cfg.Port, a.Ledger, a.Sync, logger,
		apphttp.WithRateLimit(cfg.RateLimitPerMinute))
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", log.FieldError, err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("Application shutdown error", log.FieldError, err)
		exitCode = 1
	}
	logger.Info("Server stopped gracefully")
	return exitCode
}
