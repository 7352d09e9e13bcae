package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/localrivet/dbseed/pkg/database"
	"github.com/localrivet/dbseed/pkg/sqlscript"
)

// ErrNoInserts is returned when a dump holds no line of the form
// "INSERT INTO ... ;".
var ErrNoInserts = errors.New("no INSERT statements found in dump")

const previewLen = 80

type ImportOptions struct {
	// Transactional replays every statement inside one transaction that is
	// committed after the last statement. Failed statements are still
	// skipped and counted.
	Transactional bool
}

// Importer replays seed dumps. Each INSERT line is an independent attempt:
// a failing statement is logged and skipped.
type Importer struct {
	pools  database.Pools
	logger *slog.Logger
	opts   ImportOptions
}

func NewImporter(pools database.Pools, logger *slog.Logger, opts ImportOptions) *Importer {
	return &Importer{pools: pools, logger: logger, opts: opts}
}

type ImportResult struct {
	Success          bool
	ProcessedInserts int
	Total            int
	Failed           int
	Duration         time.Duration
	Message          string
}

func (i *Importer) Import(ctx context.Context, path string, onProgress ProgressFunc) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read dump: %w", err)
		return &ImportResult{Message: err.Error()}, err
	}
	return i.replay(ctx, string(data), onProgress)
}

func (i *Importer) ImportReader(ctx context.Context, r io.Reader, onProgress ProgressFunc) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		err = fmt.Errorf("failed to read dump: %w", err)
		return &ImportResult{Message: err.Error()}, err
	}
	return i.replay(ctx, string(data), onProgress)
}

func (i *Importer) replay(ctx context.Context, text string, onProgress ProgressFunc) (*ImportResult, error) {
	start := time.Now()
	stmts := sqlscript.ExtractInserts(text)
	result := &ImportResult{Total: len(stmts)}

	if len(stmts) == 0 {
		result.Message = ErrNoInserts.Error()
		return result, ErrNoInserts
	}

	db, err := i.pools.Scoped(ctx)
	if err != nil {
		return i.fail(result, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return i.fail(result, fmt.Errorf("failed to acquire connection: %w", err))
	}
	defer conn.Close()

	dialect := i.pools.Dialect()
	if err := dialect.SetForeignKeyChecks(ctx, conn, false); err != nil {
		return i.fail(result, fmt.Errorf("failed to disable foreign key checks: %w", err))
	}
	checksRestored := false
	defer func() {
		if !checksRestored {
			i.restoreChecks(ctx, dialect, conn)
		}
	}()

	var exec database.Execer = conn
	var tx *sql.Tx
	if i.opts.Transactional {
		tx, err = conn.BeginTx(ctx, nil)
		if err != nil {
			return i.fail(result, fmt.Errorf("failed to begin transaction: %w", err))
		}
		defer tx.Rollback()
		exec = tx
	}

	i.logger.Info("seed import started", "statements", len(stmts), "transactional", tx != nil)

	for _, stmt := range stmts {
		if _, err := exec.ExecContext(ctx, strings.TrimSuffix(stmt, ";")); err != nil {
			result.Failed++
			i.logger.Warn("insert failed, skipping",
				"statement", sqlscript.Preview(stmt, previewLen),
				"error", err,
			)
		} else {
			result.ProcessedInserts++
		}

		onProgress.report(Percent(result.ProcessedInserts, len(stmts)))
		runtime.Gosched()
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return i.fail(result, fmt.Errorf("failed to commit import: %w", err))
		}
	}

	checksRestored = true
	i.restoreChecks(ctx, dialect, conn)
	onProgress.report(100)

	result.Success = true
	result.Duration = time.Since(start)
	result.Message = fmt.Sprintf("processed %d of %d INSERT statements", result.ProcessedInserts, result.Total)

	i.logger.Info("seed import completed",
		"processed", result.ProcessedInserts,
		"failed", result.Failed,
		"total", result.Total,
		"duration", result.Duration,
	)

	return result, nil
}

// restoreChecks runs even when ctx is already cancelled so the session never
// goes back to the pool with integrity checks off.
func (i *Importer) restoreChecks(ctx context.Context, dialect database.Dialect, conn *sql.Conn) {
	if err := dialect.SetForeignKeyChecks(context.WithoutCancel(ctx), conn, true); err != nil {
		i.logger.Warn("failed to re-enable foreign key checks", "error", err)
	}
}

func (i *Importer) fail(result *ImportResult, err error) (*ImportResult, error) {
	result.Message = err.Error()
	i.logger.Error("seed import failed", "error", err)
	return result, err
}
