package main

import (
	"context"
	"fmt"
	"time"

	"github.com/localrivet/dbseed/internal/backup"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/restore"
	"github.com/localrivet/dbseed/internal/storage"
	"github.com/localrivet/dbseed/pkg/database"
	"github.com/spf13/cobra"
)

type session struct {
	store  storage.Backend
	pools  *database.Provider
	engine *backup.Engine
}

// openSession opens the database and archive store for commands that work on
// archives. m may be nil.
func openSession(m *metrics.Metrics) (*session, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	pools, err := openPools()
	if err != nil {
		return nil, err
	}
	return &session{
		store:  store,
		pools:  pools,
		engine: backup.NewEngine(cfg, store, pools, newNotifier(), m, logger),
	}, nil
}

func (s *session) Close() error {
	return s.pools.Close()
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive a dump of the database now",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			result, err := sess.engine.Run(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Backup completed successfully\n")
			fmt.Printf("  ID: %s\n", result.ID)
			fmt.Printf("  Tables: %d, rows: %d\n", result.Tables, result.Rows)
			fmt.Printf("  Size: %s\n", formatBytes(result.Size))
			fmt.Printf("  Compressed: %s\n", formatBytes(result.CompressedSize))
			fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
			if result.VerifyError != nil {
				fmt.Printf("  Verification FAILED: %v\n", result.VerifyError)
			}

			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			backups, err := sess.engine.ListBackups(context.Background())
			if err != nil {
				return err
			}

			if len(backups) == 0 {
				fmt.Println("No backups found")
				return nil
			}

			fmt.Printf("%-22s %-17s %-8s %-10s %-10s %-12s\n", "ID", "DATE", "TYPE", "ROWS", "SIZE", "KEEP UNTIL")
			for _, b := range backups {
				fmt.Printf("%-22s %-17s %-8s %-10d %-10s %-12s\n",
					b.ID,
					b.Timestamp.Local().Format("2006-01-02 15:04"),
					b.Type,
					b.Seed.Rows,
					formatBytes(b.Archive.CompressedSize),
					b.Retention.KeepUntil.Local().Format("2006-01-02"),
				)
			}

			return nil
		},
	}
}

func restoreCmd() *cobra.Command {
	var dryRun, verify bool

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replay an archive into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			engine := restore.NewEngine(cfg, sess.store, sess.pools, newNotifier(), nil, logger)
			opts := restore.RestoreOptions{BackupID: args[0], DryRun: dryRun, VerifyChecksum: verify}

			var result *restore.RestoreResult
			if dryRun {
				result, err = engine.Restore(context.Background(), opts, nil)
			} else {
				onProgress, stop := progressBar("Restoring")
				result, err = engine.Restore(context.Background(), opts, onProgress)
				stop()
			}
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("Dry run completed - no changes made\n")
				fmt.Printf("  INSERT statements: %d\n", result.Total)
				return nil
			}
			printReplay(result.Processed, result.Total, result.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decode the archive and count statements without replaying them")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the archive checksum before replaying")

	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Validate archive integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			meta, err := sess.engine.GetBackup(ctx, args[0])
			if err != nil {
				return err
			}

			result, err := backup.NewValidator(sess.store, logger).Validate(ctx, meta)
			if err != nil {
				return err
			}

			if !result.Valid {
				fmt.Printf("Backup %s is INVALID\n", args[0])
				for _, e := range result.Errors {
					fmt.Printf("  - %s\n", e)
				}
				return fmt.Errorf("backup validation failed")
			}

			fmt.Printf("Backup %s is valid\n", args[0])
			fmt.Printf("  File exists: %v\n", result.FileExists)
			fmt.Printf("  Size match: %v\n", result.SizeMatch)
			fmt.Printf("  Checksum OK: %v\n", result.ChecksumOK)
			fmt.Printf("  INSERT statements: %d\n", result.Inserts)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete archives outside the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			count, err := sess.engine.Cleanup(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Cleanup completed: %d backups deleted\n", count)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check archive freshness and storage use",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			backups, err := sess.engine.ListBackups(ctx)
			if err != nil {
				return err
			}
			overdue, last, err := sess.engine.Overdue(ctx, cfg.AlertDuration())
			if err != nil {
				return err
			}
			used, err := sess.engine.StorageUsed(ctx)
			if err != nil {
				return err
			}

			status := "healthy"
			switch {
			case len(backups) == 0:
				status = "warning: no backups found"
			case overdue:
				status = "warning: backup overdue"
			}

			fmt.Printf("Status: %s\n", status)
			if !last.IsZero() {
				fmt.Printf("Last backup: %s\n", last.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Total backups: %d\n", len(backups))
			fmt.Printf("Storage used: %s\n", formatBytes(used))

			return nil
		},
	}
}
