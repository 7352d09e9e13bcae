// Package mcp exposes the deploy, seed and archive operations as MCP tools.
package mcp

import (
	"context"
	"log/slog"

	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/mcp/tools"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/database"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "dbseed"
	serverVersion = "1.0.0"
)

// NewServer creates an MCP server with every tool registered.
func NewServer(cfg *config.Config, store storage.Backend, pools database.Pools, notifier *notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	tc := tools.NewToolContext(cfg, store, pools, notifier, m, logger)
	tools.RegisterSeedTools(server, tc)
	tools.RegisterBackupTools(server, tc)

	return server
}

// Run serves MCP over stdin/stdout until ctx is done or the client disconnects.
func Run(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
