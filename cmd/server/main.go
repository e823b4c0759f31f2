package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/study-downloader/internal/api/http"
	cfgpkg "github.com/veranemoloko/study-downloader/internal/config"
	"github.com/veranemoloko/study-downloader/internal/manifest"
	"github.com/veranemoloko/study-downloader/internal/postprocess"
	repo "github.com/veranemoloko/study-downloader/internal/repository"
	svc "github.com/veranemoloko/study-downloader/internal/service"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "environment", cfg.Environment, "concurrency", cfg.Concurrency)

	sessionStorage, err := repo.NewSessionStorage(cfg.StateFile)
	if err != nil {
		logger.Error("failed to initialize session repository", "error", err)
		os.Exit(1)
	}

	fileStorage := storage.NewFileStorage(cfg.CacheRoot)
	logger.Info("file storage initialized", "root", fileStorage.Root())
	fetcher := worker.NewFileFetcher(fileStorage, worker.FetcherOptions{
		Timeout:        cfg.DownloadTimeout,
		MaxFileSize:    cfg.MaxFileSize,
		RateLimitBytes: cfg.RateLimitBytes,
	}, logger)

	var hook svc.PostProcessHook
	if cmd := postprocess.NewCommand(cfg.PostProcessCommand, cfg.PostProcessArgs, logger); cmd != nil {
		hook = cmd
		logger.Info("post-process command enabled", "command", cmd.Name())
	}

	sessionService := svc.NewSessionService(
		sessionStorage,
		manifest.NewClient(cfg.ManifestTimeout, logger),
		fetcher,
		fileStorage,
		hook,
		svc.SessionOptions{Concurrency: cfg.Concurrency, StatusCapacity: cfg.StatusCapacity},
		logger,
	)

	if err := sessionService.RecoverInterrupted(context.Background()); err != nil {
		logger.Error("failed to recover interrupted sessions", "error", err)
	}

	router := h.NewRouter(sessionService, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := sessionService.Shutdown(shutdownCtx); err != nil {
		logger.Error("session service shutdown failed", "error", err)
	}
}
