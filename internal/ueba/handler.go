package ueba

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// AnomalyHandler receives reports whose evaluation produced findings. The
// monitor invokes it synchronously with a bounded context; errors are
// logged by the monitor, never propagated to recording callers.
type AnomalyHandler interface {
	HandleAnomaly(ctx context.Context, report models.AnomalyReport) error
}

// LogHandler writes each finding to the structured log.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler constructs the default handler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHandler{logger: logger}
}

// HandleAnomaly logs every finding on the report.
func (h *LogHandler) HandleAnomaly(_ context.Context, report models.AnomalyReport) error {
	for _, finding := range report.Findings {
		h.logger.Warn("anomaly finding",
			slog.String("report_id", report.ID),
			slog.String("entity", report.Entity),
			slog.String("action", report.Action),
			slog.String("kind", string(finding.Kind)),
			slog.String("severity", string(finding.Severity)),
			slog.String("detail", finding.Detail))
	}
	return nil
}

// WebhookHandler escalates reports to an external endpoint as JSON.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler constructs a handler posting to the given URL.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// HandleAnomaly POSTs the report to the webhook.
func (h *WebhookHandler) HandleAnomaly(ctx context.Context, report models.AnomalyReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post anomaly report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
