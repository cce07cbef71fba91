package store

import (
	"context"
	"errors"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store persists fleet state: telemetry history, the latest analysis and
// diagnosis per vehicle, alerts, appointments, feedback, and chat
// conversations. Implementations must be safe for concurrent use.
type Store interface {
	SaveTelemetry(ctx context.Context, frame models.TelemetryFrame) error
	TelemetryHistory(ctx context.Context, vehicleID string, limit int) ([]models.TelemetryFrame, error)

	SaveAnalysis(ctx context.Context, analysis *models.AnalysisResult) error
	LatestAnalysis(ctx context.Context, vehicleID string) (*models.AnalysisResult, error)

	SaveDiagnosis(ctx context.Context, diagnosis *models.DiagnosisResult) error
	LatestDiagnosis(ctx context.Context, vehicleID string) (*models.DiagnosisResult, error)

	SaveAlert(ctx context.Context, alert models.Alert) error
	AlertsForVehicle(ctx context.Context, vehicleID string, limit int) ([]models.Alert, error)

	SaveAppointment(ctx context.Context, appointment *models.Appointment) error
	Appointment(ctx context.Context, id string) (*models.Appointment, error)
	AppointmentsBetween(ctx context.Context, start, end time.Time) ([]models.Appointment, error)
	AppointmentsForVehicle(ctx context.Context, vehicleID string) ([]models.Appointment, error)

	SaveFeedback(ctx context.Context, feedback models.Feedback) error
	FeedbackHistory(ctx context.Context, vehicleID string) ([]models.Feedback, error)

	SaveConversationTurn(ctx context.Context, turn models.ConversationTurn) error
	Conversation(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)

	Vehicles(ctx context.Context) ([]string, error)

	Close() error
}
