package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/localrivet/dbseed/internal/config"
	"github.com/localrivet/dbseed/internal/deploy"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/localrivet/dbseed/internal/seed"
	"github.com/localrivet/dbseed/pkg/database"
	"github.com/spf13/cobra"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Write the connection settings to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath()
			}

			updated, err := promptConfig(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), cfg)
			if err != nil {
				return err
			}
			if err := updated.Save(path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
			return nil
		},
	}
}

// promptConfig asks for each connection setting, keeping the current value
// on an empty answer.
func promptConfig(r *bufio.Reader, w io.Writer, base *config.Config) (*config.Config, error) {
	c := *base
	db := &c.Database

	var err error
	ask := func(label string, dst *string) {
		if err != nil {
			return
		}
		var answer string
		answer, err = prompt(r, w, label, *dst)
		if err == nil {
			*dst = answer
		}
	}

	ask("Database type (mysql, sqlite)", &db.Type)
	if err != nil {
		return nil, err
	}
	db.Type = database.NormalizeType(strings.ToLower(db.Type))

	if db.Type == database.TypeSQLite {
		ask("Database file", &db.Path)
	} else {
		port := strconv.Itoa(db.Port)
		ask("Host", &db.Host)
		ask("Port", &port)
		ask("User", &db.User)
		ask("Password", &db.Password)
		ask("Database", &db.Name)
		if err == nil {
			if db.Port, err = strconv.Atoi(port); err != nil {
				return nil, fmt.Errorf("invalid port %q", port)
			}
		}
	}
	ask("Schema file", &c.Schema.Path)
	ask("Archive directory", &c.Storage.Path)
	ask("Backup schedule (cron)", &c.Schedule)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func prompt(r *bufio.Reader, w io.Writer, label, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(w, "%s [%s]: ", label, current)
	} else {
		fmt.Fprintf(w, "%s: ", label)
	}

	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return current, nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the database connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := database.Ping(ctx, cfg.Database.Provider()); err != nil {
				logger.Warn("connection test failed", "error", err)
				return errors.New(database.Describe(err))
			}

			fmt.Println("Connection successful.")
			return nil
		},
	}
}

func deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Create the database and apply the schema if it is not deployed yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := openPools()
			if err != nil {
				return err
			}
			defer pools.Close()

			result, err := newDeployer(pools).Deploy(context.Background())
			if err != nil {
				newNotifier().NotifyFailure(notify.EventDeployFailed, "", err)
				return err
			}

			if result.AlreadyDeployed {
				fmt.Printf("Schema already deployed in %s\n", result.Database)
				return nil
			}
			fmt.Printf("Schema deployed to %s\n", result.Database)
			fmt.Printf("  Statements: %d\n", result.Statements)
			fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newDeployer(pools database.Pools) *deploy.Deployer {
	return deploy.NewDeployer(pools, deploy.Config{
		Database:   cfg.Database.Name,
		SchemaPath: cfg.Schema.Path,
		Sentinel:   cfg.Schema.Sentinel,
	}, logger)
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Dump every row of the database, one INSERT per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := seed.DefaultFileName(cfg.DatabaseLabel(), time.Now())
			if len(args) == 1 {
				path = args[0]
			}

			pools, err := openPools()
			if err != nil {
				return err
			}
			defer pools.Close()

			onProgress, stop := progressBar("Exporting")
			result, err := seed.NewExporter(pools, logger).Export(context.Background(), path, onProgress)
			stop()
			if err != nil {
				return err
			}

			fmt.Printf("Export completed: %s\n", result.FilePath)
			fmt.Printf("  Tables: %d\n", result.Tables)
			fmt.Printf("  Rows: %d\n", result.Rows)
			fmt.Printf("  Size: %s\n", formatBytes(result.Bytes))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replay the INSERT statements of a dump file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := openPools()
			if err != nil {
				return err
			}
			defer pools.Close()

			importer := seed.NewImporter(pools, logger, seed.ImportOptions{
				Transactional: cfg.Seed.TransactionalImport,
			})

			onProgress, stop := progressBar("Importing")
			result, err := importer.Import(context.Background(), args[0], onProgress)
			stop()
			if err != nil {
				return err
			}

			printReplay(result.ProcessedInserts, result.Total, result.Failed)
			return nil
		},
	}
}

func printReplay(processed, total, failed int) {
	fmt.Printf("Import completed: %d of %d INSERT statements applied\n", processed, total)
	if failed > 0 {
		fmt.Printf("  Skipped: %d (see log for details)\n", failed)
	}
}

// progressBar renders percentages on a terminal bar. stop must be called
// before printing anything else.
func progressBar(label string) (seed.ProgressFunc, func()) {
	progress := uiprogress.New()
	progress.Start()

	bar := progress.AddBar(100).AppendCompleted().PrependElapsed()
	bar.PrependFunc(func(b *uiprogress.Bar) string {
		return label
	})

	return func(percent int) {
		bar.Set(percent)
	}, progress.Stop
}
