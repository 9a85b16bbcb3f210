package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/registrar-office/registrar-engine/pkg/app"
	"github.com/registrar-office/registrar-engine/pkg/config"
	"github.com/registrar-office/registrar-engine/pkg/handlers"
	"github.com/registrar-office/registrar-engine/pkg/logging"
	"github.com/registrar-office/registrar-engine/pkg/middleware"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("upload_dir", cfg.Import.UploadDir),
		zap.String("logs_dir", cfg.Import.LogsDir))

	engine, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, engine, engine.Registry, engine.Drift, logger).RegisterRoutes(mux)
	handlers.NewRecordTypesHandler(engine.Registry, logger).RegisterRoutes(mux)
	handlers.NewImportHandler(engine.Imports, cfg.Import.MaxUploadBytes(), logger).RegisterRoutes(mux)
	handlers.NewAuditHandler(engine.Auditor, logger).RegisterRoutes(mux)
	handlers.NewExportHandler(engine.Exports, engine.Activity, logger).RegisterRoutes(mux)
	handlers.RegisterMedia(mux, cfg.Import.MediaURLPrefix, cfg.Import.LogsDir)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Chain(mux, middleware.RequestLogger(logger), middleware.Recoverer(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting registrar-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
