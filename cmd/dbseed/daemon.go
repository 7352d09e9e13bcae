package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localrivet/dbseed/internal/backup"
	"github.com/localrivet/dbseed/internal/mcp"
	"github.com/localrivet/dbseed/internal/metrics"
	"github.com/localrivet/dbseed/internal/notify"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Deploy the schema, then archive the database on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backup.ValidateSchedule(cfg.Schedule); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New("dbseed")
			notifier := newNotifier()

			sess, err := openSession(m)
			if err != nil {
				return err
			}
			defer sess.Close()

			deploySchema(ctx, sess, m, notifier)

			scheduler := backup.NewScheduler(sess.engine, cfg.Schedule, cfg.AlertDuration(), notifier, logger)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", healthHandler(scheduler))

			healthServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Monitoring.HealthPort),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			metricsServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort),
				Handler:           metrics.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serve(healthServer, "health")
			serve(metricsServer, "metrics")

			go reportStorage(ctx, sess.engine, m)

			<-ctx.Done()
			logger.Info("shutting down")

			scheduler.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			healthServer.Shutdown(shutdownCtx)
			metricsServer.Shutdown(shutdownCtx)

			return nil
		},
	}
}

// deploySchema runs once at startup. A failed deploy is reported and the
// daemon keeps archiving whatever the database holds.
func deploySchema(ctx context.Context, sess *session, m *metrics.Metrics, notifier *notify.Notifier) {
	start := time.Now()
	result, err := newDeployer(sess.pools).Deploy(ctx)
	m.RecordOperation(metrics.OpDeploy, time.Since(start), err)
	if err != nil {
		logger.Error("schema deploy failed", "error", err)
		notifier.NotifyFailure(notify.EventDeployFailed, "", err)
		return
	}
	if !result.AlreadyDeployed {
		notifier.NotifyDeployed(result.Statements, result.Duration)
	}
}

func serve(srv *http.Server, name string) {
	go func() {
		logger.Info(name+" server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error(name+" server error", "error", err)
		}
	}()
}

func healthHandler(scheduler *backup.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := scheduler.Engine()

		status := "healthy"
		lastRun := engine.LastRun()
		lastErr := engine.LastError()
		nextRun := scheduler.NextRun()

		if lastErr != nil {
			status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		fmt.Fprintf(w, "status: %s\n", status)
		if !lastRun.IsZero() {
			fmt.Fprintf(w, "last_backup: %s\n", lastRun.Format(time.RFC3339))
		}
		if lastErr != nil {
			fmt.Fprintf(w, "last_error: %s\n", lastErr.Error())
		}
		if !nextRun.IsZero() {
			fmt.Fprintf(w, "next_backup: %s\n", nextRun.Format(time.RFC3339))
		}
	}
}

func reportStorage(ctx context.Context, engine *backup.Engine, m *metrics.Metrics) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		used, err := engine.StorageUsed(ctx)
		if err != nil {
			logger.Warn("failed to measure storage", "error", err)
		} else {
			m.SetStorageUsed(used)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the deploy, seed and archive tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := openSession(nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			server := mcp.NewServer(cfg, sess.store, sess.pools, newNotifier(), nil, logger)
			logger.Info("mcp server starting", "transport", "stdio")
			return mcp.Run(ctx, server)
		},
	}
}
