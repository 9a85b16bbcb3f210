// Package app assembles the import engine from configuration. It is shared
// by the HTTP server and the registrar CLI so both run the same stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/registrar-office/registrar-engine/pkg/audit"
	"github.com/registrar-office/registrar-engine/pkg/config"
	"github.com/registrar-office/registrar-engine/pkg/database"
	"github.com/registrar-office/registrar-engine/pkg/logging"
	"github.com/registrar-office/registrar-engine/pkg/registry"
	"github.com/registrar-office/registrar-engine/pkg/repositories"
	"github.com/registrar-office/registrar-engine/pkg/retry"
	"github.com/registrar-office/registrar-engine/pkg/services"
)

// Engine holds the wired services and the resources they share.
type Engine struct {
	Registry *registry.Registry
	Imports  services.ImportService
	Auditor  services.AuditorService
	Exports  services.ExportService
	Activity services.ActivityService
	Drift    []registry.Drift

	db *database.DB
}

// Build connects to PostgreSQL with startup retries, applies migrations,
// loads and verifies the record schemas, and wires every service.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	reg, err := registry.LoadFile(cfg.Import.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load record schemas: %w", err)
	}

	for _, dir := range []string{cfg.Import.UploadDir, cfg.Import.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := retry.DoWithResultIfRetryable(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		if retry.IsRetryable(err) {
			logger.Warn("Database not ready, retrying",
				zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
				zap.Error(err))
		}
		return db, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(db.SQLDB(), logger); err != nil {
		db.Close()
		return nil, err
	}

	engine := Wire(reg, db, cfg.Import, logger)
	engine.Drift = reg.Verify(ctx, repositories.NewCatalogRepository(db), logger)
	engine.db = db
	return engine, nil
}

// Wire builds the services over an open store. Build calls it after
// connecting; tests call it directly against a container database.
func Wire(reg *registry.Registry, db database.Querier, cfg config.ImportConfig, logger *zap.Logger) *Engine {
	records := repositories.NewRecordRepository(db)
	activity := services.NewActivityService(repositories.NewActivityRepository(db), logger)
	logs := services.NewOutcomeLogWriter(cfg.LogsDir, cfg.MediaURLPrefix)
	security := audit.NewSecurityAuditor(logger)

	imports := services.NewImportService(services.ImportServiceDeps{
		Registry:          reg,
		Records:           records,
		Prefetcher:        services.NewPrefetcher(records, cfg.PrefetchBatchSize, logger),
		Tracker:           services.NewProgressTracker(),
		Uploads:           services.NewUploadStore(cfg.UploadDir, logger),
		Logs:              logs,
		Activity:          activity,
		Security:          security,
		FailureSampleSize: cfg.FailureSampleSize,
	}, logger)

	return &Engine{
		Registry: reg,
		Imports:  imports,
		Auditor:  services.NewAuditorService(reg, records, logs, activity, security, cfg.DeleteBatchSize, logger),
		Exports:  services.NewExportService(reg, records, logs, cfg.PrefetchBatchSize, logger),
		Activity: activity,
	}
}

// Ping checks the database connection.
func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return errors.New("database not connected")
	}
	return e.db.Ping(ctx)
}

// Close releases the database pool.
func (e *Engine) Close() {
	if e.db != nil {
		e.db.Close()
	}
}
