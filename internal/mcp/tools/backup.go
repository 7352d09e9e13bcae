package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localrivet/dbseed/internal/restore"
	"github.com/localrivet/dbseed/pkg/archive"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultListLimit = 20

var errBackupIDRequired = errors.New("backup_id is required")

type BackupNowOutput struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	BackupID       string `json:"backup_id,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Tables         int    `json:"tables"`
	Rows           int64  `json:"rows"`
	SizeBytes      int64  `json:"size_bytes"`
	CompressedSize int64  `json:"compressed_size"`
	DurationMs     int64  `json:"duration_ms"`
	Checksum       string `json:"checksum,omitempty"`
}

type ListBackupsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of archives to return (default: 20)"`
}

type BackupItem struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Database       string `json:"database"`
	Type           string `json:"type"`
	Tables         int    `json:"tables"`
	Rows           int64  `json:"rows"`
	SizeBytes      int64  `json:"size_bytes"`
	CompressedSize int64  `json:"compressed_size"`
	KeepUntil      string `json:"keep_until"`
	Checksum       string `json:"checksum"`
}

type ListBackupsOutput struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Count   int          `json:"count"`
	Backups []BackupItem `json:"backups"`
}

type RestoreBackupInput struct {
	BackupID       string `json:"backup_id" jsonschema:"The archive ID to restore from"`
	DryRun         bool   `json:"dry_run,omitempty" jsonschema:"If true, decode the archive and count its INSERT statements without replaying them"`
	VerifyChecksum bool   `json:"verify_checksum,omitempty" jsonschema:"If true, verify the archive checksum before replaying"`
}

type RestoreBackupOutput struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	BackupID  string `json:"backup_id"`
	DryRun    bool   `json:"dry_run"`
	Total     int    `json:"total"`
	Processed int    `json:"processed_inserts"`
	Failed    int    `json:"failed"`
}

type VerifyBackupInput struct {
	BackupID string `json:"backup_id" jsonschema:"The archive ID to verify"`
}

type VerifyBackupOutput struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	BackupID   string   `json:"backup_id"`
	Valid      bool     `json:"valid"`
	FileExists bool     `json:"file_exists"`
	SizeMatch  bool     `json:"size_match"`
	ChecksumOK bool     `json:"checksum_ok"`
	RowsMatch  bool     `json:"rows_match"`
	Errors     []string `json:"errors,omitempty"`
}

type CleanupOutput struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

func (tc *ToolContext) BackupNow(ctx context.Context) BackupNowOutput {
	result, err := tc.BackupEngine.Run(ctx)
	if err != nil {
		return BackupNowOutput{Message: err.Error()}
	}

	return BackupNowOutput{
		Success:        true,
		Message:        "Archive " + result.ID + " created",
		BackupID:       result.ID,
		Timestamp:      result.Timestamp.UTC().Format(time.RFC3339),
		Tables:         result.Tables,
		Rows:           result.Rows,
		SizeBytes:      result.Size,
		CompressedSize: result.CompressedSize,
		DurationMs:     result.Duration.Milliseconds(),
		Checksum:       result.Checksum,
	}
}

// ListBackups returns the newest archives first.
func (tc *ToolContext) ListBackups(ctx context.Context, in ListBackupsInput) ListBackupsOutput {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	backups, err := tc.BackupEngine.ListBackups(ctx)
	if err != nil {
		return ListBackupsOutput{Message: err.Error(), Backups: []BackupItem{}}
	}
	total := len(backups)
	if len(backups) > limit {
		backups = backups[:limit]
	}

	items := make([]BackupItem, len(backups))
	for i, b := range backups {
		items[i] = toItem(b)
	}

	return ListBackupsOutput{
		Success: true,
		Message: fmt.Sprintf("%d of %d archives", len(items), total),
		Count:   len(items),
		Backups: items,
	}
}

func toItem(b *archive.Metadata) BackupItem {
	return BackupItem{
		ID:             b.ID,
		Timestamp:      b.Timestamp.UTC().Format(time.RFC3339),
		Database:       b.Database.Name,
		Type:           b.Type,
		Tables:         b.Seed.Tables,
		Rows:           b.Seed.Rows,
		SizeBytes:      b.Archive.SizeBytes,
		CompressedSize: b.Archive.CompressedSize,
		KeepUntil:      b.Retention.KeepUntil.UTC().Format(time.RFC3339),
		Checksum:       b.Archive.Checksum,
	}
}

func (tc *ToolContext) RestoreBackup(ctx context.Context, in RestoreBackupInput) RestoreBackupOutput {
	id := strings.TrimSpace(in.BackupID)
	out := RestoreBackupOutput{BackupID: id, DryRun: in.DryRun}
	if id == "" {
		out.Message = errBackupIDRequired.Error()
		return out
	}

	result, err := tc.RestoreEngine.Restore(ctx, restore.RestoreOptions{
		BackupID:       id,
		DryRun:         in.DryRun,
		VerifyChecksum: in.VerifyChecksum,
	}, nil)
	if result != nil {
		out.Total = result.Total
		out.Processed = result.Processed
		out.Failed = result.Failed
	}
	if err != nil {
		out.Message = err.Error()
		return out
	}
	out.Success = true
	out.Message = result.Message
	return out
}

func (tc *ToolContext) VerifyBackup(ctx context.Context, in VerifyBackupInput) VerifyBackupOutput {
	id := strings.TrimSpace(in.BackupID)
	out := VerifyBackupOutput{BackupID: id}
	if id == "" {
		out.Message = errBackupIDRequired.Error()
		return out
	}

	meta, err := tc.BackupEngine.GetBackup(ctx, id)
	if err != nil {
		out.Message = err.Error()
		return out
	}
	result, err := tc.Validator.Validate(ctx, meta)
	if err != nil {
		out.Message = err.Error()
		return out
	}

	out.Success = true
	out.Valid = result.Valid
	out.FileExists = result.FileExists
	out.SizeMatch = result.SizeMatch
	out.ChecksumOK = result.ChecksumOK
	out.RowsMatch = result.RowsMatch
	out.Errors = result.Errors
	if result.Valid {
		out.Message = fmt.Sprintf("Archive %s is valid (%d INSERT statements)", id, result.Inserts)
	} else {
		out.Message = result.Err().Error()
	}
	return out
}

func (tc *ToolContext) CleanupBackups(ctx context.Context) CleanupOutput {
	deleted, err := tc.BackupEngine.Cleanup(ctx)
	if err != nil {
		return CleanupOutput{Message: err.Error(), DeletedCount: deleted}
	}
	return CleanupOutput{
		Success:      true,
		Message:      fmt.Sprintf("Removed %d expired archives", deleted),
		DeletedCount: deleted,
	}
}

// RegisterBackupTools registers the archive tools with the MCP server.
func RegisterBackupTools(server *mcp.Server, tc *ToolContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "backup_now",
		Description: "Dump the database into a new stored archive",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, BackupNowOutput, error) {
		return nil, tc.BackupNow(ctx), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_backups",
		Description: "List stored archives, newest first",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in ListBackupsInput) (*mcp.CallToolResult, ListBackupsOutput, error) {
		return nil, tc.ListBackups(ctx, in), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restore_backup",
		Description: "Replay a stored archive into the database. Failing statements are skipped",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in RestoreBackupInput) (*mcp.CallToolResult, RestoreBackupOutput, error) {
		return nil, tc.RestoreBackup(ctx, in), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_backup",
		Description: "Check that a stored archive exists, matches its size and checksum, and holds the recorded rows",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in VerifyBackupInput) (*mcp.CallToolResult, VerifyBackupOutput, error) {
		return nil, tc.VerifyBackup(ctx, in), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_backups",
		Description: "Delete archives that fall outside the retention policy",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, CleanupOutput, error) {
		return nil, tc.CleanupBackups(ctx), nil
	})
}
