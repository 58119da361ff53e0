package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/threat-modeling-mate/internal/application"
	apptm "github.com/bryanwahyu/threat-modeling-mate/internal/application/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/config"
	"github.com/bryanwahyu/threat-modeling-mate/internal/domain/threatmodel"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/ai/openai"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/httpserver"
	"github.com/bryanwahyu/threat-modeling-mate/internal/infra/storage"
	"github.com/bryanwahyu/threat-modeling-mate/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// init model client
	model := openai.NewClient(openai.Options{
		Provider:    cfg.Model.Provider,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		Model:       cfg.Model.ID,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Model.Timeout,
	})
	if cfg.Model.APIKey == "" {
		logger.Warn("no model API key configured; analyses will fail until OPENAI_API_KEY is set")
	}

	// init export store: minio kalau ada, kalau tidak ke folder lokal
	checks := map[string]middleware.HealthChecker{}
	var exports threatmodel.ExportStore
	switch {
	case cfg.MinioEnabled():
		store, err := storage.New(ctx, storage.Options{
			Endpoint:      cfg.Minio.Endpoint,
			Region:        cfg.Minio.Region,
			Bucket:        cfg.Minio.BucketName,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			UseSSL:        cfg.Minio.UseSSL,
			PresignExpiry: cfg.Minio.PresignExpiry,
		})
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		exports = store
		checks["exports"] = store
		logger.Info("exports go to object storage", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.BucketName)
	case cfg.Export.Dir != "":
		exports = storage.FileStore{Dir: cfg.Export.Dir}
		logger.Info("exports go to local directory", "dir", cfg.Export.Dir)
	default:
		logger.Info("export storage disabled")
	}

	metrics := middleware.NewMetrics()

	// init service
	svc := &apptm.Service{
		Model:                    model,
		Exports:                  exports,
		ExportPrefix:             cfg.Export.Prefix,
		Clock:                    application.SystemClock{},
		Logger:                   logger,
		Metrics:                  metrics,
		IncludeMissingCategories: cfg.Analysis.IncludeMissingCategories,
	}

	// init router
	handler := httpserver.NewRouter(svc, httpserver.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		APIKeys:        cfg.Server.APIKeys,
		RateLimiter:    middleware.NewRateLimiter(cfg.Server.RateLimit.PerMinute, cfg.Server.RateLimit.Burst),
		Metrics:        metrics,
		Logger:         logger,
		Checks:         checks,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "model", cfg.Model.ID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx2)
}
