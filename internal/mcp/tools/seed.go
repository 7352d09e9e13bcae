package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localrivet/dbseed/internal/seed"
	"github.com/localrivet/dbseed/pkg/database"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type EmptyInput struct{}

var errPathRequired = errors.New("path is required")

type TestConnectionInput struct {
	Host     string `json:"host,omitempty" jsonschema:"Server host (default: configured host)"`
	Port     int    `json:"port,omitempty" jsonschema:"Server port (default: configured port)"`
	User     string `json:"user,omitempty" jsonschema:"User name (default: configured user)"`
	Password string `json:"password,omitempty" jsonschema:"Password (default: configured password)"`
}

type DBConfigOutput struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Database string `json:"database,omitempty"`
	Path     string `json:"path,omitempty"`
}

type DeployOutput struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Database        string `json:"database,omitempty"`
	AlreadyDeployed bool   `json:"already_deployed"`
	Statements      int    `json:"statements"`
	DurationMs      int64  `json:"duration_ms"`
}

type ExportSeedInput struct {
	Path string `json:"path,omitempty" jsonschema:"Destination file (default: <database>-seed-YYYY-MM-DD.sql)"`
}

type ExportSeedOutput struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	FilePath string `json:"file_path,omitempty"`
	Tables   int    `json:"tables"`
	Rows     int64  `json:"rows"`
	Bytes    int64  `json:"bytes"`
}

type ImportSeedInput struct {
	Path string `json:"path" jsonschema:"Seed dump to replay"`
}

type ImportSeedOutput struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Processed int    `json:"processed_inserts"`
	Total     int    `json:"total"`
	Failed    int    `json:"failed"`
}

func (tc *ToolContext) TestConnection(ctx context.Context, in TestConnectionInput) StatusOutput {
	cfg := tc.Config.Database.Provider()
	if in.Host != "" {
		cfg.Host = in.Host
	}
	if in.Port != 0 {
		cfg.Port = in.Port
	}
	if in.User != "" {
		cfg.User = in.User
	}
	if in.Password != "" {
		cfg.Password = in.Password
	}

	if err := tc.Ping(ctx, cfg); err != nil {
		tc.Logger.Warn("connection test failed", "host", cfg.Host, "port", cfg.Port, "error", err)
		return StatusOutput{Message: database.Describe(err)}
	}
	return StatusOutput{Success: true, Message: "Connection successful."}
}

// GetDBConfig reports the connection settings without the password.
func (tc *ToolContext) GetDBConfig() DBConfigOutput {
	db := tc.Config.Database
	out := DBConfigOutput{Success: true, Type: database.NormalizeType(db.Type)}
	if tc.Config.IsSQLite() {
		out.Path = db.Path
		out.Message = "sqlite database at " + db.Path
		return out
	}
	out.Host = db.Host
	out.Port = db.Port
	out.User = db.User
	out.Database = db.Name
	out.Message = fmt.Sprintf("%s@%s:%d/%s", db.User, db.Host, db.Port, db.Name)
	return out
}

func (tc *ToolContext) DeploySchema(ctx context.Context) DeployOutput {
	result, err := tc.Deployer.Deploy(ctx)
	if err != nil {
		return DeployOutput{Message: err.Error()}
	}

	msg := fmt.Sprintf("Schema deployed (%d statements)", result.Statements)
	if result.AlreadyDeployed {
		msg = "Schema already deployed"
	}
	return DeployOutput{
		Success:         true,
		Message:         msg,
		Database:        result.Database,
		AlreadyDeployed: result.AlreadyDeployed,
		Statements:      result.Statements,
		DurationMs:      result.Duration.Milliseconds(),
	}
}

func (tc *ToolContext) ExportSeed(ctx context.Context, in ExportSeedInput) ExportSeedOutput {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		path = seed.DefaultFileName(tc.Config.DatabaseLabel(), time.Now())
	}

	result, err := tc.Exporter.Export(ctx, path, nil)
	if err != nil {
		return ExportSeedOutput{Message: err.Error(), FilePath: path}
	}
	return ExportSeedOutput{
		Success:  true,
		Message:  result.Message,
		FilePath: result.FilePath,
		Tables:   result.Tables,
		Rows:     result.Rows,
		Bytes:    result.Bytes,
	}
}

func (tc *ToolContext) ImportSeed(ctx context.Context, in ImportSeedInput) ImportSeedOutput {
	path := strings.TrimSpace(in.Path)
	if path == "" {
		return ImportSeedOutput{Message: errPathRequired.Error()}
	}

	result, err := tc.Importer.Import(ctx, path, nil)
	var out ImportSeedOutput
	if result != nil {
		out.Processed = result.ProcessedInserts
		out.Total = result.Total
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

// RegisterSeedTools registers the connection, deploy and seed tools.
func RegisterSeedTools(server *mcp.Server, tc *ToolContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "test_connection",
		Description: "Test connectivity to the database server, optionally with other credentials",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in TestConnectionInput) (*mcp.CallToolResult, StatusOutput, error) {
		return nil, tc.TestConnection(ctx, in), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_db_config",
		Description: "Show the configured database connection (password omitted)",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, DBConfigOutput, error) {
		return nil, tc.GetDBConfig(), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deploy_schema",
		Description: "Create the database and apply the schema unless it is already deployed",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in EmptyInput) (*mcp.CallToolResult, DeployOutput, error) {
		return nil, tc.DeploySchema(ctx), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_seed",
		Description: "Write every row of the database to a seed dump file, one INSERT per line",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in ExportSeedInput) (*mcp.CallToolResult, ExportSeedOutput, error) {
		return nil, tc.ExportSeed(ctx, in), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "import_seed",
		Description: "Replay the INSERT statements of a seed dump file. Failing statements are skipped",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in ImportSeedInput) (*mcp.CallToolResult, ImportSeedOutput, error) {
		return nil, tc.ImportSeed(ctx, in), nil
	})
}
