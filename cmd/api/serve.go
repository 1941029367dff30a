package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"configdeck/api/internal/app"
	"configdeck/api/internal/config"
	"configdeck/api/internal/gitrepo"
	"configdeck/api/internal/logging"
	"configdeck/api/internal/session"
	"configdeck/api/internal/store"
)

func getServeCmd(cfg *config.Config, fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *cfg, fs)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, fs afero.Fs) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	backend, closeBackend, err := openBackend(ctx, cfg, fs, logger)
	if err != nil {
		logger.WithError(err).Error("document backend unavailable")
		return err
	}
	defer closeBackend()
	documents := store.NewDocumentStore(ctx, backend, logger)

	var workspaces session.Store = session.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.WorkspaceTTL)
		if err != nil {
			logger.WithError(err).Error("redis connection failed")
			return err
		}
		logger.Info("using Redis for workspace storage")
		workspaces = redisStore
	}
	defer workspaces.Close()

	var history app.History
	if cfg.HistoryDir != "" {
		logger.WithField("dir", cfg.HistoryDir).Info("document history enabled")
		history = gitrepo.New(cfg.HistoryDir)
	}

	service := app.New(cfg, documents, workspaces, history, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.ConvertMaxUploadBytes, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("server failed")
			return err
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, fs afero.Fs, logger logrus.FieldLogger) (store.Backend, func(), error) {
	var driver, dsn string
	switch cfg.DocumentBackend {
	case config.BackendFile, "":
		logger.WithField("path", cfg.DataFile).Info("using file document backend")
		return store.NewFileBackend(fs, cfg.DataFile), func() {}, nil
	case config.BackendSQLite:
		driver, dsn = store.DriverSQLite, cfg.SQLitePath
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		driver, dsn = store.DriverPostgres, cfg.DatabaseURL
	default:
		return nil, nil, fmt.Errorf("unknown DOCUMENT_BACKEND %q", cfg.DocumentBackend)
	}

	db, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	logger.WithField("driver", driver).Info("using SQL document backend")
	return store.NewSQLBackend(db, driver), func() { _ = db.Close() }, nil
}
