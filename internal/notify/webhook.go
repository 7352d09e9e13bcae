package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	EventArchived      = "seed.archived"
	EventArchiveFailed = "seed.archive_failed"
	EventRestored      = "seed.restored"
	EventRestoreFailed = "seed.restore_failed"
	EventDeployed      = "schema.deployed"
	EventDeployFailed  = "schema.deploy_failed"
	EventAlert         = "seed.alert"

	userAgent = "dbseed/1.0"
)

// Notifier posts JSON events to a webhook. A nil *Notifier is valid and
// drops every event, so callers never need to check whether one is set.
type Notifier struct {
	webhookURL string
	database   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewNotifier(webhookURL, database string, logger *slog.Logger) *Notifier {
	if webhookURL == "" {
		return nil
	}

	return &Notifier{
		webhookURL: webhookURL,
		database:   database,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database,omitempty"`
	ArchiveID string    `json:"archive_id,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Details   Details   `json:"details,omitempty"`
}

type Details struct {
	Size       int64  `json:"size_bytes,omitempty"`
	Rows       int64  `json:"rows,omitempty"`
	Statements int    `json:"statements,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
	Duration   int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (n *Notifier) NotifyArchived(archiveID string, rows, size int64, duration time.Duration) {
	if n == nil {
		return
	}

	n.send(WebhookPayload{
		Event:     EventArchived,
		ArchiveID: archiveID,
		Status:    "success",
		Message:   fmt.Sprintf("Seed archive %s stored (%d rows)", archiveID, rows),
		Details: Details{
			Size:     size,
			Rows:     rows,
			Duration: duration.Milliseconds(),
		},
	})
}

func (n *Notifier) NotifyRestored(archiveID string, processed, skipped int, duration time.Duration) {
	if n == nil {
		return
	}

	n.send(WebhookPayload{
		Event:     EventRestored,
		ArchiveID: archiveID,
		Status:    "success",
		Message:   fmt.Sprintf("Seed archive %s restored (%d statements, %d skipped)", archiveID, processed, skipped),
		Details: Details{
			Statements: processed,
			Skipped:    skipped,
			Duration:   duration.Milliseconds(),
		},
	})
}

func (n *Notifier) NotifyDeployed(statements int, duration time.Duration) {
	if n == nil {
		return
	}

	n.send(WebhookPayload{
		Event:   EventDeployed,
		Status:  "success",
		Message: fmt.Sprintf("Schema deployed (%d statements)", statements),
		Details: Details{
			Statements: statements,
			Duration:   duration.Milliseconds(),
		},
	})
}

// NotifyFailure reports a failed operation. event is one of the *Failed
// event names; archiveID may be empty.
func (n *Notifier) NotifyFailure(event, archiveID string, err error) {
	if n == nil {
		return
	}

	payload := WebhookPayload{
		Event:     event,
		ArchiveID: archiveID,
		Status:    "failure",
		Message:   "Operation failed",
	}
	if archiveID != "" {
		payload.Message = fmt.Sprintf("Operation on %s failed", archiveID)
	}
	if err != nil {
		payload.Details.Error = err.Error()
	}

	n.send(payload)
}

func (n *Notifier) NotifyAlert(message string) {
	if n == nil {
		return
	}

	n.send(WebhookPayload{
		Event:   EventAlert,
		Status:  "alert",
		Message: message,
	})
}

func (n *Notifier) send(payload WebhookPayload) {
	payload.Timestamp = time.Now().UTC()
	payload.Database = n.database

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(data))
	if err != nil {
		n.logger.Error("failed to create webhook request", "error", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("failed to send webhook", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook returned error status", "status", resp.StatusCode, "event", payload.Event)
	} else {
		n.logger.Debug("webhook sent successfully", "event", payload.Event)
	}
}
