package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunecache/internal/config"
	"tunecache/internal/coordinator"
	"tunecache/internal/fallback"
	"tunecache/internal/httpapi"
	"tunecache/internal/kv"
	"tunecache/internal/library"
	"tunecache/internal/materializer"
	"tunecache/internal/resolver"
	"tunecache/internal/resolver/httpresolver"
	"tunecache/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Warn("could not load config, continuing with defaults", "err", err)
	}

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	// Construction order: KV -> ArtifactStore -> ResolverRegistry -> Coordinator,
	// the only process-wide mutable handles.
	kvStore := kv.New(cfg.StateDir, cfg.RedisAddr, logger)
	kvStore.Load()
	go kvStore.PersistPeriodically(backgroundCtx, cfg.KVFlushInterval)

	artifacts := store.New(cfg.CacheDir)
	if err := artifacts.Scan(); err != nil {
		logger.Error("artifact store scan failed", "err", err)
	}

	resolvers := map[string]resolver.Resolver{}
	if len(cfg.GatewayURLs) > 0 {
		resolvers[cfg.GatewaySource] = httpresolver.New(cfg.GatewaySource, cfg.GatewayURLs, logger)
	}
	registry := resolver.NewRegistry(resolvers)

	mat := materializer.New(artifacts, materializer.RetryPolicy{
		MaxAttempts: cfg.MaterializerRetries,
		BaseDelay:   cfg.MaterializerBaseWait,
	}, logger)

	var fb coordinator.FallbackAdapter
	if len(cfg.ExternalScriptURLs) > 0 {
		runner := fallback.New(cfg.ScriptDir, cfg.ScriptInterpreter, cfg.FallbackTimeout, cfg.ExternalScriptURLs, logger)
		runner.RefreshAll(backgroundCtx)
		fb = runner
	}

	coord := coordinator.New(kvStore, artifacts, registry, mat, fb, backgroundCtx, logger)

	lib := library.New(cfg.LibraryDir)
	if cfg.LibraryDir != "" {
		if err := lib.Scan(); err != nil {
			logger.Error("library scan failed", "err", err)
		}
	}

	router := httpapi.New(coord, lib, cfg.CacheDir)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("starting tunecache", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tunecache")

	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("tunecache exited")
}
