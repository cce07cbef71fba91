package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/assist"
	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
)

// MessageRenderer produces the customer-facing text for an alert.
type MessageRenderer interface {
	Render(ctx context.Context, diagnosis *models.DiagnosisResult) (string, error)
}

// TemplateRenderer is the deterministic fallback renderer.
type TemplateRenderer struct{}

func (TemplateRenderer) Render(_ context.Context, diagnosis *models.DiagnosisResult) (string, error) {
	findings := strings.Join(diagnosis.Findings, "; ")
	if findings == "" {
		findings = "vehicle condition requires attention"
	}
	if diagnosis.AlertLevel == models.AlertCritical {
		return fmt.Sprintf("CRITICAL ALERT: %s. Immediate attention required. Recommended service: %s.",
			findings, diagnosis.RecommendedAction), nil
	}
	return fmt.Sprintf("Maintenance advisory: %s. Recommended service: %s.",
		findings, diagnosis.RecommendedAction), nil
}

const advisorSystemPrompt = "You are a service advisor for a vehicle fleet. " +
	"Write a short, clear message to the vehicle owner about the diagnosis. " +
	"State the urgency plainly and name the recommended service."

// AssistRenderer asks the chat backend to phrase the alert.
type AssistRenderer struct {
	client *assist.Client
}

// NewAssistRenderer wraps an assist client as a MessageRenderer.
func NewAssistRenderer(client *assist.Client) *AssistRenderer {
	return &AssistRenderer{client: client}
}

func (r *AssistRenderer) Render(ctx context.Context, diagnosis *models.DiagnosisResult) (string, error) {
	if r == nil || !r.client.Configured() {
		return "", fmt.Errorf("assist renderer not configured")
	}
	summary := fmt.Sprintf("Vehicle %s, alert level %s. Findings: %s. Recommended service: %s.",
		diagnosis.VehicleID, diagnosis.AlertLevel,
		strings.Join(diagnosis.Findings, "; "), diagnosis.RecommendedAction)
	return r.client.Chat(ctx, []assist.Message{
		{Role: "system", Content: advisorSystemPrompt},
		{Role: "user", Content: summary},
	})
}

// CustomerNotifier renders and records customer alerts. A failing renderer
// falls back to the template so a notification always goes out.
type CustomerNotifier struct {
	logger   *slog.Logger
	store    store.Store
	renderer MessageRenderer
}

// NewCustomerNotifier constructs the notifier. A nil renderer means the
// template is used directly.
func NewCustomerNotifier(logger *slog.Logger, st store.Store, renderer MessageRenderer) *CustomerNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = TemplateRenderer{}
	}
	return &CustomerNotifier{logger: logger, store: st, renderer: renderer}
}

func (n *CustomerNotifier) Notify(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.NotificationOutcome, error) {
	if diagnosis == nil || diagnosis.VehicleID == "" {
		return nil, fmt.Errorf("no diagnosis to notify")
	}

	channel := rendererChannel(n.renderer)
	message, err := n.renderer.Render(ctx, diagnosis)
	if err != nil || strings.TrimSpace(message) == "" {
		if err != nil {
			n.logger.Warn("alert renderer failed, using template",
				slog.String("vehicle_id", diagnosis.VehicleID), slog.Any("error", err))
		}
		message, _ = TemplateRenderer{}.Render(ctx, diagnosis)
		channel = models.ChannelLog
	}

	now := time.Now().UTC()
	alert := models.Alert{
		ID:          uuid.NewString(),
		VehicleID:   diagnosis.VehicleID,
		Level:       diagnosis.AlertLevel,
		Message:     message,
		ServiceType: diagnosis.RecommendedAction,
		CreatedAt:   now,
	}
	if n.store != nil {
		if err := n.store.SaveAlert(ctx, alert); err != nil {
			n.logger.Warn("alert not persisted",
				slog.String("vehicle_id", alert.VehicleID), slog.Any("error", err))
		}
	}

	n.logger.Info("customer alert issued",
		slog.String("vehicle_id", alert.VehicleID),
		slog.String("level", string(alert.Level)),
		slog.String("channel", string(channel)))

	return &models.NotificationOutcome{
		AlertID:   alert.ID,
		VehicleID: alert.VehicleID,
		Level:     alert.Level,
		Message:   message,
		Channel:   channel,
		SentAt:    now,
	}, nil
}

func rendererChannel(renderer MessageRenderer) models.NotificationChannel {
	switch renderer.(type) {
	case TemplateRenderer, *TemplateRenderer:
		return models.ChannelLog
	default:
		return models.ChannelAssistant
	}
}
