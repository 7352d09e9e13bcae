package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/rotation"
	"github.com/localrivet/dbseed/internal/seed"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/archive"
	"github.com/localrivet/dbseed/pkg/database"
)

// Engine stores seed dumps of the configured database as archives: a data
// file plus a JSON metadata sidecar, rotated by a GFS policy.
type Engine struct {
	cfg      *config.Config
	storage  storage.Backend
	pools    database.Pools
	exporter *seed.Exporter
	rotator  *rotation.Rotator
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	retry    RetryConfig
	now      func() time.Time

	mu        sync.RWMutex
	lastRun   time.Time
	lastError error
}

// NewEngine builds an engine. notifier and m may be nil.
func NewEngine(cfg *config.Config, store storage.Backend, pools database.Pools, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Engine {
	policy := rotation.NewPolicy(
		cfg.Retention.Daily,
		cfg.Retention.Weekly,
		cfg.Retention.Monthly,
		cfg.Retention.MaxAgeDays,
	)

	return &Engine{
		cfg:      cfg,
		storage:  store,
		pools:    pools,
		exporter: seed.NewExporter(pools, logger),
		rotator:  rotation.NewRotator(policy),
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		retry:    DefaultRetryConfig(),
		now:      time.Now,
	}
}

type BackupResult struct {
	ID             string
	Timestamp      time.Time
	Tables         int
	Rows           int64
	Size           int64
	CompressedSize int64
	Duration       time.Duration
	Checksum       string
	Metadata       *archive.Metadata
	Verified       bool  // True if the stored archive was checked after writing
	VerifyError    error // Non-nil if verification failed
	Error          error
}

// Run dumps the database and stores the result as a new archive.
func (e *Engine) Run(ctx context.Context) (*BackupResult, error) {
	began := time.Now()
	startTime := e.now()
	backupID := archive.GenerateID(startTime)

	e.logger.Info("starting backup", "id", backupID, "db_type", e.pools.Dialect().Name())

	result := &BackupResult{
		ID:        backupID,
		Timestamp: startTime,
	}

	var dump bytes.Buffer
	stats, err := e.exporter.Dump(ctx, &dump, nil)
	if err != nil {
		result.Error = fmt.Errorf("database dump failed: %w", err)
		e.handleBackupError(result, began)
		return result, result.Error
	}
	result.Tables = stats.Tables
	result.Rows = stats.Rows
	result.Size = stats.Bytes

	payload := dump.Bytes()
	if e.cfg.Compression == "gzip" {
		var compressed bytes.Buffer
		if err := compressGzip(&compressed, bytes.NewReader(payload)); err != nil {
			result.Error = fmt.Errorf("compression failed: %w", err)
			e.handleBackupError(result, began)
			return result, result.Error
		}
		payload = compressed.Bytes()
	}
	result.CompressedSize = int64(len(payload))

	checksum, err := archive.Checksum(bytes.NewReader(payload))
	if err != nil {
		result.Error = err
		e.handleBackupError(result, began)
		return result, result.Error
	}
	result.Checksum = checksum

	dataPath := archive.DataPath(backupID, e.cfg.Compression)
	if err := e.write(ctx, dataPath, payload); err != nil {
		result.Error = fmt.Errorf("failed to write backup to storage: %w", err)
		e.handleBackupError(result, began)
		return result, result.Error
	}

	metadata := archive.NewMetadata(backupID, archive.DatabaseInfo{
		Type:    e.pools.Dialect().Name(),
		Name:    e.cfg.DatabaseLabel(),
		Host:    e.databaseHost(),
		Version: e.serverVersion(ctx),
	})
	metadata.Timestamp = startTime.UTC()
	metadata.Archive.Compression = e.cfg.Compression

	result.Duration = time.Since(began)
	metadata.SetArchiveInfo(result.Size, result.CompressedSize, result.Duration, result.Checksum)
	metadata.SetSeedInfo(stats.Tables, stats.Rows)

	keepUntil, tier := e.rotator.Retention(startTime)
	metadata.SetRetention(keepUntil, tier)
	metadata.Type = tier
	metadata.AddFile(dataPath)

	metaPath := archive.MetaPath(backupID)
	metadata.AddFile(metaPath)

	metaJSON, err := metadata.ToJSON()
	if err == nil {
		err = e.write(ctx, metaPath, metaJSON)
	}
	if err != nil {
		// An archive without a readable sidecar is invisible to list and restore.
		if delErr := e.storage.Delete(ctx, dataPath); delErr != nil {
			e.logger.Warn("failed to remove orphaned backup file", "file", dataPath, "error", delErr)
		}
		result.Error = fmt.Errorf("failed to write metadata: %w", err)
		e.handleBackupError(result, began)
		return result, result.Error
	}
	result.Metadata = metadata

	if e.cfg.Backup.VerifyChecksum {
		e.logger.Info("verifying backup integrity", "id", backupID)
		validation, err := NewValidator(e.storage, e.logger).Validate(ctx, metadata)
		switch {
		case err != nil:
			result.VerifyError = err
		case !validation.Valid:
			result.VerifyError = validation.Err()
		}

		if result.VerifyError != nil {
			e.logger.Error("backup verification FAILED", "id", backupID, "error", result.VerifyError)
			e.notifier.NotifyFailure(notify.EventArchiveFailed, backupID, fmt.Errorf("backup verification failed: %w", result.VerifyError))
		} else {
			result.Verified = true
			e.logger.Info("backup verified successfully", "id", backupID)
		}
	}

	e.mu.Lock()
	e.lastRun = startTime
	e.lastError = nil
	e.mu.Unlock()

	e.logger.Info("backup completed",
		"id", backupID,
		"tables", result.Tables,
		"rows", result.Rows,
		"size", result.Size,
		"compressed_size", result.CompressedSize,
		"duration", result.Duration,
		"type", metadata.Type,
		"verified", result.Verified,
	)

	e.metrics.RecordBackupSuccess(result.Duration, result.CompressedSize, result.Rows)
	e.notifier.NotifyArchived(backupID, result.Rows, result.CompressedSize, result.Duration)

	return result, nil
}

func (e *Engine) write(ctx context.Context, path string, data []byte) error {
	_, err := WithRetry(ctx, e.retry, e.logger, "storage write "+path, func() (struct{}, error) {
		return struct{}{}, e.storage.Write(ctx, path, bytes.NewReader(data))
	})
	return err
}

func (e *Engine) databaseHost() string {
	if e.cfg.IsSQLite() {
		return "local"
	}
	return e.cfg.Database.Host
}

func (e *Engine) serverVersion(ctx context.Context) string {
	db, err := e.pools.Scoped(ctx)
	if err == nil {
		var v string
		if v, err = e.pools.Dialect().Version(ctx, db); err == nil {
			return v
		}
	}
	e.logger.Warn("failed to get database version", "error", err)
	return "unknown"
}

// Cleanup deletes every archive the retention policy no longer keeps.
func (e *Engine) Cleanup(ctx context.Context) (int, error) {
	start := time.Now()
	e.logger.Info("running backup cleanup")

	backups, err := e.ListBackups(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list backups: %w", err)
		e.metrics.RecordOperation(metrics.OpCleanup, time.Since(start), err)
		return 0, err
	}

	toDelete := e.rotator.Expired(backups, e.now())

	deletedCount := 0
	for _, backup := range toDelete {
		e.logger.Info("deleting old backup", "id", backup.ID, "type", backup.Type)

		// The sidecar goes last so a partial delete is retried next time.
		files := append([]string(nil), backup.Files...)
		sort.SliceStable(files, func(i, j int) bool {
			return !archive.IsMetaPath(files[i]) && archive.IsMetaPath(files[j])
		})

		failed := false
		for _, file := range files {
			if err := e.storage.Delete(ctx, file); err != nil {
				e.logger.Warn("failed to delete backup file", "file", file, "error", err)
				failed = true
				break
			}
		}
		if !failed {
			deletedCount++
		}
	}

	e.logger.Info("cleanup completed", "deleted", deletedCount, "kept", len(backups)-deletedCount)
	e.metrics.RecordOperation(metrics.OpCleanup, time.Since(start), nil)

	if used, err := e.StorageUsed(ctx); err == nil {
		e.metrics.SetStorageUsed(used)
	}

	return deletedCount, nil
}

// ListBackups returns every readable archive, newest first. Sidecars that
// cannot be read or parsed are logged and skipped.
func (e *Engine) ListBackups(ctx context.Context) ([]*archive.Metadata, error) {
	files, err := e.storage.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var backups []*archive.Metadata

	for _, file := range files {
		if !archive.IsMetaPath(file.Path) {
			continue
		}

		meta, err := e.readMetadata(ctx, file.Path)
		if err != nil {
			e.logger.Warn("failed to read metadata", "path", file.Path, "error", err)
			continue
		}

		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

func (e *Engine) GetBackup(ctx context.Context, backupID string) (*archive.Metadata, error) {
	meta, err := e.readMetadata(ctx, archive.MetaPath(backupID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", archive.ErrNotFound, backupID)
	}
	return meta, err
}

func (e *Engine) readMetadata(ctx context.Context, path string) (*archive.Metadata, error) {
	reader, err := e.storage.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	return archive.ParseMetadata(data)
}

// Overdue reports whether the newest archive is older than window. No
// archives at all counts as overdue. last is the newest archive time.
func (e *Engine) Overdue(ctx context.Context, window time.Duration) (bool, time.Time, error) {
	backups, err := e.ListBackups(ctx)
	if err != nil {
		return false, time.Time{}, err
	}
	if len(backups) == 0 {
		return true, time.Time{}, nil
	}

	last := backups[0].Timestamp
	return e.now().Sub(last) > window, last, nil
}

// StorageUsed sums the stored size of every archive.
func (e *Engine) StorageUsed(ctx context.Context) (int64, error) {
	files, err := e.storage.List(ctx, "")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

func (e *Engine) LastRun() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRun
}

func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

func (e *Engine) handleBackupError(result *BackupResult, began time.Time) {
	e.mu.Lock()
	e.lastError = result.Error
	e.mu.Unlock()

	e.logger.Error("backup failed", "id", result.ID, "error", result.Error)

	e.metrics.RecordBackupFailure(time.Since(began), result.Error)
	e.notifier.NotifyFailure(notify.EventArchiveFailed, result.ID, result.Error)
}

func compressGzip(dst io.Writer, src io.Reader) error {
	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
