// Package deploy bootstraps the application schema on first start.
package deploy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/localrivet/dbseed/pkg/database"
	"github.com/localrivet/dbseed/pkg/sqlscript"
)

// ErrNoDatabase is returned when the deployer has no target database name.
var ErrNoDatabase = errors.New("no target database configured")

// DefaultSentinel is used when Config.Sentinel is empty.
const DefaultSentinel = "attendance"

type Config struct {
	Database   string
	SchemaPath string
	// Sentinel is the table whose presence means the schema is deployed.
	Sentinel string
}

type Deployer struct {
	pools  database.Pools
	cfg    Config
	logger *slog.Logger
}

func NewDeployer(pools database.Pools, cfg Config, logger *slog.Logger) *Deployer {
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	return &Deployer{pools: pools, cfg: cfg, logger: logger}
}

type Result struct {
	Database        string
	AlreadyDeployed bool
	Statements      int
	Duration        time.Duration
}

// Deploy creates the database if needed and runs the schema script unless the
// sentinel table already exists. The first failing statement aborts the
// deploy; statements before it stay applied.
func (d *Deployer) Deploy(ctx context.Context) (*Result, error) {
	start := time.Now()
	name := strings.TrimSpace(d.cfg.Database)
	if name == "" {
		return nil, ErrNoDatabase
	}
	result := &Result{Database: name}

	admin, err := d.pools.Admin(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := admin.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	dialect := d.pools.Dialect()

	if err := dialect.EnsureDatabase(ctx, conn, name); err != nil {
		return nil, err
	}

	deployed, err := dialect.TableExists(ctx, conn, name, d.cfg.Sentinel)
	if err != nil {
		return nil, err
	}
	if deployed {
		result.AlreadyDeployed = true
		result.Duration = time.Since(start)
		d.logger.Info("schema already deployed", "database", name, "sentinel", d.cfg.Sentinel)
		return result, nil
	}

	script, err := os.ReadFile(d.cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	stmts := sqlscript.Split(string(script))

	d.logger.Info("deploying schema", "database", name, "schema", d.cfg.SchemaPath, "statements", len(stmts))

	if err := dialect.SetForeignKeyChecks(ctx, conn, false); err != nil {
		return nil, fmt.Errorf("failed to disable foreign key checks: %w", err)
	}
	defer d.enableChecks(ctx, dialect, conn)

	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to execute schema statement %d (%s): %w",
				i+1, sqlscript.Preview(stmt, 80), err)
		}
		result.Statements++
		d.logger.Debug("schema statement applied", "index", i+1, "statement", sqlscript.Preview(stmt, 80))
	}

	result.Duration = time.Since(start)
	d.logger.Info("schema deployed", "database", name, "statements", result.Statements, "duration", result.Duration)

	return result, nil
}

func (d *Deployer) enableChecks(ctx context.Context, dialect database.Dialect, conn *sql.Conn) {
	if err := dialect.SetForeignKeyChecks(context.WithoutCancel(ctx), conn, true); err != nil {
		d.logger.Warn("failed to re-enable foreign key checks", "error", err)
	}
}
