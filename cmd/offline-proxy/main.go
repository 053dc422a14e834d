package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
)

func main() {
	// Configuration from environment
	cfg, err := loadConfig()
	if err != nil {
		logger := logging.NewLogger(logging.ComponentProxy)
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := logging.NewLogger(logging.ComponentProxy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup storage
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("Failed to open cache storage")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache storage")
		}
	}()
	logger.Info().Str("backend", cfg.StorageBackend).Msg("Cache storage ready")

	srv, err := newServer(cfg, store, http.DefaultTransport, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	// Install the initial version. A failure leaves requests passing through
	// until /_sw/update installs a working version.
	if _, err := srv.reg.Register(ctx, srv.controllerConfig(cfg.CacheVersion, nil)); err != nil {
		logger.Error().Err(err).Str("version", cfg.CacheVersion).Msg("Initial install failed, serving without cache")
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("upstream", cfg.UpstreamURL).
		Str("version", cfg.CacheVersion).
		Msg("Starting offline proxy")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
