package restore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/seed"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/archive"
	"github.com/localrivet/dbseed/pkg/database"
	"github.com/localrivet/dbseed/pkg/sqlscript"
)

// Engine replays a stored seed archive into the configured database.
type Engine struct {
	cfg      *config.Config
	storage  storage.Backend
	importer *seed.Importer
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewEngine(cfg *config.Config, store storage.Backend, pools database.Pools, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		storage: store,
		importer: seed.NewImporter(pools, logger, seed.ImportOptions{
			Transactional: cfg.Seed.TransactionalImport,
		}),
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

type RestoreOptions struct {
	BackupID       string
	DryRun         bool // Decode and count statements without touching the database
	VerifyChecksum bool // Verify checksum before restoring
}

type RestoreResult struct {
	BackupID      string
	Success       bool
	ChecksumValid bool
	Total         int
	Processed     int
	Failed        int
	Duration      time.Duration
	Message       string
	Error         error
}

func (e *Engine) Restore(ctx context.Context, opts RestoreOptions, onProgress seed.ProgressFunc) (*RestoreResult, error) {
	start := time.Now()
	result := &RestoreResult{BackupID: opts.BackupID}

	e.logger.Info("starting restore", "backup_id", opts.BackupID, "dry_run", opts.DryRun)

	metadata, err := e.loadMetadata(ctx, opts.BackupID)
	if err != nil {
		return e.fail(result, start, err)
	}

	backupFile := metadata.DataFile()
	if backupFile == "" {
		return e.fail(result, start, fmt.Errorf("no backup file found in metadata"))
	}

	raw, err := e.readAll(ctx, backupFile)
	if err != nil {
		return e.fail(result, start, fmt.Errorf("failed to read backup file: %w", err))
	}

	if opts.VerifyChecksum || e.cfg.Backup.VerifyChecksum {
		if metadata.Archive.Checksum != "" {
			e.logger.Info("verifying backup checksum", "expected", metadata.Archive.Checksum)

			actual, err := archive.Checksum(bytes.NewReader(raw))
			if err != nil {
				return e.fail(result, start, err)
			}
			if actual != metadata.Archive.Checksum {
				return e.fail(result, start, fmt.Errorf("%w: expected %s, got %s",
					archive.ErrChecksumMismatch, metadata.Archive.Checksum, actual))
			}
			result.ChecksumValid = true
			e.logger.Info("checksum verified successfully")
		} else {
			e.logger.Warn("no checksum recorded, skipping verification", "backup_id", opts.BackupID)
		}
	}

	dump := raw
	if metadata.Compressed() {
		if dump, err = gunzip(raw); err != nil {
			return e.fail(result, start, fmt.Errorf("failed to decompress backup: %w", err))
		}
	}

	if opts.DryRun {
		result.Total = len(sqlscript.ExtractInserts(string(dump)))
		if result.Total == 0 {
			return e.fail(result, start, seed.ErrNoInserts)
		}
		result.Success = true
		result.Duration = time.Since(start)
		result.Message = fmt.Sprintf("dry run: %d INSERT statements would be replayed", result.Total)
		e.logger.Info("dry run completed", "backup_id", opts.BackupID, "file", backupFile, "inserts", result.Total)
		return result, nil
	}

	imported, err := e.importer.ImportReader(ctx, bytes.NewReader(dump), onProgress)
	if imported != nil {
		result.Total = imported.Total
		result.Processed = imported.ProcessedInserts
		result.Failed = imported.Failed
	}
	if err != nil {
		return e.fail(result, start, err)
	}

	result.Success = true
	result.Duration = time.Since(start)
	result.Message = imported.Message

	e.metrics.RecordOperation(metrics.OpRestore, result.Duration, nil)
	e.metrics.AddSkippedInserts(result.Failed)
	e.notifier.NotifyRestored(opts.BackupID, result.Processed, result.Failed, result.Duration)

	e.logger.Info("restore completed",
		"backup_id", opts.BackupID,
		"processed", result.Processed,
		"failed", result.Failed,
		"duration", result.Duration,
	)

	return result, nil
}

func (e *Engine) loadMetadata(ctx context.Context, backupID string) (*archive.Metadata, error) {
	data, err := e.readAll(ctx, archive.MetaPath(backupID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, backupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	return archive.ParseMetadata(data)
}

func (e *Engine) readAll(ctx context.Context, path string) ([]byte, error) {
	reader, err := e.storage.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (e *Engine) fail(result *RestoreResult, start time.Time, err error) (*RestoreResult, error) {
	result.Error = err
	result.Message = err.Error()
	result.Duration = time.Since(start)

	e.logger.Error("restore failed", "backup_id", result.BackupID, "error", err)
	e.metrics.RecordOperation(metrics.OpRestore, result.Duration, err)
	e.notifier.NotifyFailure(notify.EventRestoreFailed, result.BackupID, err)

	return result, err
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
