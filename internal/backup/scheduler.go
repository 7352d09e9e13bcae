package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/dbseed/internal/notify"
	"github.com/robfig/cron/v3"
)

const overdueCheck = "@every 1h"

// Scheduler takes a backup and runs cleanup on a cron schedule, and raises an
// alert when no archive has been stored within the alert window.
type Scheduler struct {
	engine     *Engine
	cron       *cron.Cron
	schedule   string
	alertAfter time.Duration
	notifier   *notify.Notifier
	logger     *slog.Logger
	mu         sync.RWMutex
	running    bool
	entryID    cron.EntryID
}

func NewScheduler(engine *Engine, schedule string, alertAfter time.Duration, notifier *notify.Notifier, logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		engine:     engine,
		schedule:   schedule,
		alertAfter: alertAfter,
		notifier:   notifier,
		logger:     logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// cronSpec turns a five-field schedule into the six-field form the seconds
// parser expects. Descriptors such as @daily pass through.
func cronSpec(schedule string) string {
	schedule = strings.TrimSpace(schedule)
	if strings.HasPrefix(schedule, "@") {
		return schedule
	}
	return "0 " + schedule
}

// ValidateSchedule reports whether schedule is a usable cron expression.
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cronSpec(schedule)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	entryID, err := s.cron.AddFunc(cronSpec(s.schedule), func() {
		s.runBackup(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID

	if s.alertAfter > 0 {
		if _, err := s.cron.AddFunc(overdueCheck, func() {
			s.checkOverdue(ctx)
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started",
		"schedule", s.schedule,
		"next_run", s.cron.Entry(entryID).Next,
	)

	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) RunNow(ctx context.Context) (*BackupResult, error) {
	return s.engine.Run(ctx)
}

func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runBackup(ctx context.Context) {
	s.logger.Info("scheduled backup starting")

	result, err := s.engine.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled backup failed", "error", err)
	} else {
		s.logger.Info("scheduled backup completed", "id", result.ID)
	}

	if _, err := s.engine.Cleanup(ctx); err != nil {
		s.logger.Error("cleanup after backup failed", "error", err)
	}
}

// checkOverdue alerts when the newest stored archive is older than the alert
// window, or when none exist.
func (s *Scheduler) checkOverdue(ctx context.Context) {
	overdue, last, err := s.engine.Overdue(ctx, s.alertAfter)
	if err != nil {
		s.logger.Warn("failed to check backup age", "error", err)
		return
	}
	if !overdue {
		return
	}

	msg := fmt.Sprintf("No seed archive in %s", s.alertAfter)
	if !last.IsZero() {
		msg += ". Last archive: " + last.Format(time.RFC3339)
	}
	s.logger.Warn("backup overdue", "alert_after", s.alertAfter, "last_backup", last)
	s.notifier.NotifyAlert(msg)
}

func (s *Scheduler) Engine() *Engine {
	return s.engine
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
