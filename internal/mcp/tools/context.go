package tools

import (
	"context"
	"log/slog"

	"github.com/localrivet/dbseed/internal/backup"
	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/deploy"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/restore"
	"github.com/localrivet/dbseed/internal/seed"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/database"
)

// ToolContext carries context for all MCP tools.
type ToolContext struct {
	Config        *config.Config
	Storage       storage.Backend
	Deployer      *deploy.Deployer
	Exporter      *seed.Exporter
	Importer      *seed.Importer
	BackupEngine  *backup.Engine
	RestoreEngine *restore.Engine
	Validator     *backup.Validator
	Logger        *slog.Logger

	// Ping tests connectivity for test_connection.
	Ping func(ctx context.Context, cfg database.Config) error
}

func NewToolContext(cfg *config.Config, store storage.Backend, pools database.Pools, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *ToolContext {
	return &ToolContext{
		Config:  cfg,
		Storage: store,
		Deployer: deploy.NewDeployer(pools, deploy.Config{
			Database:   cfg.Database.Name,
			SchemaPath: cfg.Schema.Path,
			Sentinel:   cfg.Schema.Sentinel,
		}, logger),
		Exporter: seed.NewExporter(pools, logger),
		Importer: seed.NewImporter(pools, logger, seed.ImportOptions{
			Transactional: cfg.Seed.TransactionalImport,
		}),
		BackupEngine:  backup.NewEngine(cfg, store, pools, notifier, m, logger),
		RestoreEngine: restore.NewEngine(cfg, store, pools, notifier, m, logger),
		Validator:     backup.NewValidator(store, logger),
		Logger:        logger,
		Ping:          database.Ping,
	}
}

// StatusOutput is returned by tools that report nothing beyond the outcome.
type StatusOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
