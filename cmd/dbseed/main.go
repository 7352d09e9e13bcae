package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/database"
	"github.com/spf13/cobra"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
	logger   *slog.Logger
	cfg      *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dbseed",
		Short:         "Schema deployment and seed dump utility",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			// stdout carries the protocol when serving MCP.
			out := io.Writer(os.Stdout)
			if cmd.Name() == "mcp" {
				out = os.Stderr
			}
			logger = newLogger(out, level)

			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			path := cfgFile
			if cmd.Name() == "setup" && path != "" && !config.Exists(path) {
				// setup creates the file; start from defaults and the environment.
				path = ""
			}
			cfg, err = config.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "command", os.Args[1:], "error", err)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func openPools() (*database.Provider, error) {
	return database.New(cfg.Database.Provider())
}

func openStore() (storage.Backend, error) {
	store, err := storage.New(storageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	return store, nil
}

func storageConfig(c *config.Config) storage.Config {
	sc := storage.Config{Backend: c.Storage.Backend, Path: c.Storage.Path}
	if c.Storage.Backend == "s3" {
		sc.S3 = &storage.S3Config{
			Bucket:    c.Storage.S3.Bucket,
			Endpoint:  c.Storage.S3.Endpoint,
			Region:    c.Storage.S3.Region,
			Prefix:    c.Storage.S3.Prefix,
			AccessKey: c.Storage.S3.AccessKey,
			SecretKey: c.Storage.S3.SecretKey,
			UseSSL:    c.Storage.S3.UseSSL,
		}
	}
	return sc
}

func newNotifier() *notify.Notifier {
	return notify.NewNotifier(cfg.Monitoring.WebhookURL, cfg.DatabaseLabel(), logger)
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
