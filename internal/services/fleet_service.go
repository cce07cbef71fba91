package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetstack/fleetguard/internal/agents"
	"github.com/fleetstack/fleetguard/internal/assist"
	"github.com/fleetstack/fleetguard/internal/cache"
	"github.com/fleetstack/fleetguard/internal/engine"
	"github.com/fleetstack/fleetguard/internal/metrics"
	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/ueba"
	"github.com/fleetstack/fleetguard/internal/utils"
)

const fleetAssistantPrompt = "You are the service assistant for a vehicle fleet. " +
	"Answer the customer's question about their vehicle's condition, alerts, or " +
	"maintenance bookings. Be brief and concrete."

const fallbackReply = "Thanks for reaching out. Your question has been logged " +
	"and a service advisor will follow up shortly."

// FleetService is the facade the HTTP API and the simulator call. Every
// entry point records the agent activity it causes before doing the work.
type FleetService struct {
	logger        *slog.Logger
	pipeline      *engine.Pipeline
	store         store.Store
	cache         cache.Provider
	cacheTTL      time.Duration
	scheduler     *agents.MaintenanceScheduler
	feedbackAgent *agents.FeedbackAgent
	assist        *assist.Client
	monitor       *ueba.Monitor
	latencies     *utils.LatencyTracker
}

// NewFleetService constructs the facade. Cache, assist client, and monitor
// are optional.
func NewFleetService(
	logger *slog.Logger,
	pipeline *engine.Pipeline,
	st store.Store,
	provider cache.Provider,
	cacheTTL time.Duration,
	scheduler *agents.MaintenanceScheduler,
	feedbackAgent *agents.FeedbackAgent,
	assistClient *assist.Client,
	monitor *ueba.Monitor,
) *FleetService {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &FleetService{
		logger:        logger,
		pipeline:      pipeline,
		store:         st,
		cache:         provider,
		cacheTTL:      cacheTTL,
		scheduler:     scheduler,
		feedbackAgent: feedbackAgent,
		assist:        assistClient,
		monitor:       monitor,
		latencies:     utils.NewLatencyTracker(1024),
	}
}

// ProcessTelemetry runs one frame through the pipeline. The pipeline does
// its own activity recording stage by stage.
func (s *FleetService) ProcessTelemetry(ctx context.Context, frame models.TelemetryFrame) (*models.PipelineOutcome, error) {
	if s.pipeline == nil {
		return nil, fmt.Errorf("pipeline not configured")
	}

	start := time.Now()
	outcome, err := s.pipeline.Run(ctx, frame)
	duration := time.Since(start)
	if err != nil {
		result := metrics.OutcomeFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = metrics.OutcomeCancelled
		}
		metrics.ObservePipelineRun(duration, result)
		s.logger.Error("pipeline run failed",
			slog.String("vehicle_id", frame.VehicleID), slog.Any("error", err))
		return nil, err
	}

	s.latencies.Observe(duration)
	metrics.ObservePipelineRun(duration, metrics.OutcomeCompleted)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("telemetry pipeline latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	s.invalidateStatus(ctx, frame.VehicleID)
	return outcome, nil
}

// VehicleStatus aggregates the latest known state for one vehicle, serving
// from cache when fresh.
func (s *FleetService) VehicleStatus(ctx context.Context, vehicleID string) (*models.VehicleStatus, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle id required: %w", utils.ErrInvalidInput)
	}
	s.record("master_agent", "get_vehicle_status", map[string]string{"vehicle_id": vehicleID})

	key := statusCacheKey(vehicleID)
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var status models.VehicleStatus
		if err := json.Unmarshal(payload, &status); err == nil {
			return &status, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Debug("status cache read failed", slog.Any("error", err))
	}

	status := &models.VehicleStatus{VehicleID: vehicleID, GeneratedAt: time.Now().UTC()}

	s.record("data_analysis_agent", "get_latest_analysis", map[string]string{"vehicle_id": vehicleID})
	analysis, err := s.store.LatestAnalysis(ctx, vehicleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	status.Analysis = analysis

	s.record("diagnosis_agent", "get_predictions", map[string]string{"vehicle_id": vehicleID})
	diagnosis, err := s.store.LatestDiagnosis(ctx, vehicleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load diagnosis: %w", err)
	}
	status.Diagnosis = diagnosis

	alerts, err := s.store.AlertsForVehicle(ctx, vehicleID, 10)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	status.OpenAlerts = alerts

	appointments, err := s.store.AppointmentsForVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	now := time.Now()
	for _, appointment := range appointments {
		if appointment.Status == models.AppointmentConfirmed && appointment.SlotStart.After(now) {
			status.Upcoming = append(status.Upcoming, appointment)
		}
	}

	if status.Analysis == nil && status.Diagnosis == nil && len(status.OpenAlerts) == 0 && len(status.Upcoming) == 0 {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, store.ErrNotFound)
	}

	if payload, err := json.Marshal(status); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
			s.logger.Debug("status cache fill failed", slog.Any("error", err))
		}
	}
	return status, nil
}

// ScheduleMaintenance books a slot on the customer's behalf.
func (s *FleetService) ScheduleMaintenance(ctx context.Context, vehicleID, serviceType string, preferred time.Time) (*models.Appointment, error) {
	if s.scheduler == nil {
		return nil, fmt.Errorf("scheduler not configured")
	}
	s.record("master_agent", "schedule_maintenance", map[string]string{"vehicle_id": vehicleID})
	s.record("scheduling_agent", "schedule_appointment", map[string]string{"vehicle_id": vehicleID})

	appointment, err := s.scheduler.Book(ctx, vehicleID, serviceType, preferred)
	if err != nil {
		return nil, err
	}
	s.logger.Info("maintenance booked",
		slog.String("vehicle_id", vehicleID),
		slog.String("service_type", appointment.ServiceType),
		slog.Time("slot_start", appointment.SlotStart),
		slog.Float64("slot_minutes", utils.DurationMinutes(appointment.SlotStart, appointment.SlotEnd)))
	s.invalidateStatus(ctx, vehicleID)
	return appointment, nil
}

// AvailableSlots lists free slots for a day.
func (s *FleetService) AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	if s.scheduler == nil {
		return nil, fmt.Errorf("scheduler not configured")
	}
	s.record("scheduling_agent", "get_available_slots", map[string]string{"day": day.Format("2006-01-02")})
	return s.scheduler.AvailableSlots(ctx, day)
}

// CancelAppointment cancels a booking and frees its slot.
func (s *FleetService) CancelAppointment(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	if s.scheduler == nil {
		return nil, fmt.Errorf("scheduler not configured")
	}
	s.record("scheduling_agent", "cancel_appointment", map[string]string{"appointment_id": appointmentID})

	appointment, err := s.scheduler.Cancel(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	s.invalidateStatus(ctx, appointment.VehicleID)
	return appointment, nil
}

// SubmitFeedback processes a customer's post-service feedback.
func (s *FleetService) SubmitFeedback(ctx context.Context, feedback models.Feedback) (*models.FeedbackInsights, error) {
	if s.feedbackAgent == nil {
		return nil, fmt.Errorf("feedback agent not configured")
	}
	s.record("master_agent", "submit_feedback", map[string]string{"vehicle_id": feedback.VehicleID})
	s.record("feedback_agent", "process_feedback", map[string]string{"vehicle_id": feedback.VehicleID})
	return s.feedbackAgent.Process(ctx, feedback)
}

// FeedbackSummary aggregates stored feedback, fleet-wide when vehicleID
// is empty.
func (s *FleetService) FeedbackSummary(ctx context.Context, vehicleID string) (*models.FeedbackSummary, error) {
	if s.feedbackAgent == nil {
		return nil, fmt.Errorf("feedback agent not configured")
	}
	s.record("feedback_agent", "get_feedback_summary", map[string]string{"vehicle_id": vehicleID})
	return s.feedbackAgent.Summary(ctx, vehicleID)
}

// CustomerQuery answers a chat message, preferring the assist backend and
// falling back to a canned reply. Both turns are persisted.
func (s *FleetService) CustomerQuery(ctx context.Context, sessionID, message string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id required: %w", utils.ErrInvalidInput)
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message required: %w", utils.ErrInvalidInput)
	}
	s.record("master_agent", "handle_customer_query", map[string]string{"session_id": sessionID})
	s.record("customer_agent", "process_message", map[string]string{"session_id": sessionID})

	now := time.Now().UTC()
	if err := s.store.SaveConversationTurn(ctx, models.ConversationTurn{
		SessionID: sessionID, Role: "user", Content: message, CreatedAt: now,
	}); err != nil {
		s.logger.Warn("conversation turn not persisted", slog.Any("error", err))
	}

	reply := s.assistReply(ctx, sessionID, message)

	if err := s.store.SaveConversationTurn(ctx, models.ConversationTurn{
		SessionID: sessionID, Role: "assistant", Content: reply, CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("conversation turn not persisted", slog.Any("error", err))
	}
	return reply, nil
}

func (s *FleetService) assistReply(ctx context.Context, sessionID, message string) string {
	if !s.assist.Configured() {
		return fallbackReply
	}

	conversation := []assist.Message{{Role: "system", Content: fleetAssistantPrompt}}
	history, err := s.store.Conversation(ctx, sessionID, 10)
	if err != nil || len(history) == 0 {
		conversation = append(conversation, assist.Message{Role: "user", Content: message})
	} else {
		for _, turn := range history {
			conversation = append(conversation, assist.Message{Role: turn.Role, Content: turn.Content})
		}
		last := history[len(history)-1]
		if last.Role != "user" || last.Content != message {
			conversation = append(conversation, assist.Message{Role: "user", Content: message})
		}
	}

	reply, err := s.assist.Chat(ctx, conversation)
	if err != nil {
		s.logger.Warn("assist reply failed, using fallback", slog.Any("error", err))
		return fallbackReply
	}
	return reply
}

// VehicleAlerts returns the newest alerts for one vehicle.
func (s *FleetService) VehicleAlerts(ctx context.Context, vehicleID string, limit int) ([]models.Alert, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle id required: %w", utils.ErrInvalidInput)
	}
	return s.store.AlertsForVehicle(ctx, vehicleID, limit)
}

// Vehicles lists every known vehicle id.
func (s *FleetService) Vehicles(ctx context.Context) ([]string, error) {
	return s.store.Vehicles(ctx)
}

// ActivitySummary snapshots the behaviour monitor's ledger, filtered to one
// entity when a non-empty name is given.
func (s *FleetService) ActivitySummary(entity string) models.ActivitySummary {
	if s.monitor == nil {
		return models.ActivitySummary{}
	}
	return s.monitor.Summary(entity)
}

// RecentActivity returns the newest n recorded events, oldest first.
func (s *FleetService) RecentActivity(n int) []models.ActivityEvent {
	if s.monitor == nil {
		return nil
	}
	return s.monitor.Ledger().Tail(n)
}

// LatencyP95 reports the current p95 pipeline latency.
func (s *FleetService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *FleetService) record(entity, action string, metadata map[string]string) {
	if s.monitor == nil {
		return
	}
	s.monitor.Record(entity, action, metadata)
}

func (s *FleetService) invalidateStatus(ctx context.Context, vehicleID string) {
	if vehicleID == "" {
		return
	}
	if err := s.cache.Del(ctx, statusCacheKey(vehicleID)); err != nil {
		s.logger.Debug("status cache invalidation failed", slog.Any("error", err))
	}
}

func statusCacheKey(vehicleID string) string {
	return "status:" + vehicleID
}
