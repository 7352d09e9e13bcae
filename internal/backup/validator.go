package backup

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/archive"
	"github.com/localrivet/dbseed/pkg/sqlscript"
)

// Validator checks a stored archive against its metadata without touching
// the database: presence, stored size, checksum and the INSERT count.
type Validator struct {
	storage storage.Backend
	logger  *slog.Logger
}

func NewValidator(store storage.Backend, logger *slog.Logger) *Validator {
	return &Validator{
		storage: store,
		logger:  logger,
	}
}

type ValidationResult struct {
	BackupID   string
	Valid      bool
	FileExists bool
	SizeMatch  bool
	ChecksumOK bool
	RowsMatch  bool
	Inserts    int64
	Errors     []string
}

// Err folds the recorded problems into one error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	if len(r.Errors) == 0 {
		return errors.New("backup is invalid")
	}
	return errors.New(strings.Join(r.Errors, "; "))
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (v *Validator) Validate(ctx context.Context, metadata *archive.Metadata) (*ValidationResult, error) {
	result := &ValidationResult{
		BackupID: metadata.ID,
		Valid:    true,
	}

	if len(metadata.Files) == 0 {
		result.fail("no files listed in metadata")
		return result, nil
	}

	backupFile := metadata.DataFile()
	if backupFile == "" {
		result.fail("backup file not found in metadata")
		return result, nil
	}

	exists, err := v.storage.Exists(ctx, backupFile)
	if err != nil {
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	}
	result.FileExists = exists

	if !exists {
		result.fail("backup file does not exist")
		return result, nil
	}

	size, err := v.storage.Size(ctx, backupFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get file size: %w", err)
	}

	result.SizeMatch = size == metadata.Archive.CompressedSize
	if !result.SizeMatch {
		result.fail("size mismatch: expected %d, got %d", metadata.Archive.CompressedSize, size)
	}

	reader, err := v.storage.Read(ctx, backupFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	defer reader.Close()

	hasher := sha256.New()
	body := io.TeeReader(reader, hasher)

	inserts, countErr := countInserts(body, metadata.Compressed())
	// Drain whatever the count did not consume so the hash covers the file.
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}

	if metadata.Archive.Checksum != "" {
		result.ChecksumOK = archive.FormatChecksum(hasher.Sum(nil)) == metadata.Archive.Checksum
		if !result.ChecksumOK {
			result.fail("checksum mismatch")
		}
	} else {
		result.ChecksumOK = true
	}

	if countErr != nil {
		result.fail("failed to decode dump: %v", countErr)
		return result, nil
	}

	result.Inserts = inserts
	result.RowsMatch = inserts == metadata.Seed.Rows
	if !result.RowsMatch {
		result.fail("row count mismatch: expected %d INSERT statements, found %d", metadata.Seed.Rows, inserts)
	}

	if !result.Valid {
		v.logger.Warn("backup validation failed", "id", metadata.ID, "errors", result.Errors)
	}

	return result, nil
}

// countInserts counts the dump lines a restore would replay.
func countInserts(r io.Reader, compressed bool) (int64, error) {
	if compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return 0, err
		}
		defer gz.Close()
		r = gz
	}

	br := bufio.NewReader(r)
	var n int64
	for {
		line, err := br.ReadString('\n')
		if sqlscript.IsInsert(strings.TrimSpace(line)) {
			n++
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}
