package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/agents"
	"github.com/fleetstack/fleetguard/internal/metrics"
	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/utils"
)

// Service is the surface the API needs from the fleet facade.
type Service interface {
	ProcessTelemetry(ctx context.Context, frame models.TelemetryFrame) (*models.PipelineOutcome, error)
	VehicleStatus(ctx context.Context, vehicleID string) (*models.VehicleStatus, error)
	Vehicles(ctx context.Context) ([]string, error)
	VehicleAlerts(ctx context.Context, vehicleID string, limit int) ([]models.Alert, error)
	ScheduleMaintenance(ctx context.Context, vehicleID, serviceType string, preferred time.Time) (*models.Appointment, error)
	AvailableSlots(ctx context.Context, day time.Time) ([]time.Time, error)
	CancelAppointment(ctx context.Context, appointmentID string) (*models.Appointment, error)
	SubmitFeedback(ctx context.Context, feedback models.Feedback) (*models.FeedbackInsights, error)
	FeedbackSummary(ctx context.Context, vehicleID string) (*models.FeedbackSummary, error)
	CustomerQuery(ctx context.Context, sessionID, message string) (string, error)
	ActivitySummary(entity string) models.ActivitySummary
	RecentActivity(n int) []models.ActivityEvent
}

// Handlers holds the route handlers. All business logic lives behind the
// Service interface.
type Handlers struct {
	logger  *slog.Logger
	service Service
}

func newHandlers(logger *slog.Logger, service Service) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, service: service}
}

func (h *Handlers) routes() http.Handler {
	mux := http.NewServeMux()
	for _, route := range []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /healthz", h.health},
		{"POST /api/v1/telemetry", h.ingestTelemetry},
		{"GET /api/v1/vehicles", h.listVehicles},
		{"GET /api/v1/vehicles/{id}/status", h.vehicleStatus},
		{"GET /api/v1/vehicles/{id}/alerts", h.vehicleAlerts},
		{"POST /api/v1/appointments", h.bookAppointment},
		{"GET /api/v1/appointments/slots", h.availableSlots},
		{"DELETE /api/v1/appointments/{id}", h.cancelAppointment},
		{"POST /api/v1/feedback", h.submitFeedback},
		{"GET /api/v1/feedback/summary", h.feedbackSummary},
		{"POST /api/v1/chat", h.chat},
		{"GET /api/v1/activity/summary", h.activitySummary},
		{"GET /api/v1/activity/recent", h.recentActivity},
	} {
		mux.HandleFunc(route.pattern, h.instrument(route.pattern, route.handler))
	}
	return mux
}

// instrument wraps a handler with request metrics and access logging, keyed
// by the registered route pattern rather than the raw path.
func (h *Handlers) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(route, recorder.status, duration)
		h.logger.Debug("request handled",
			slog.String("route", route),
			slog.Int("status", recorder.status),
			slog.Duration("duration", duration))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	var frame models.TelemetryFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := h.service.ProcessTelemetry(r.Context(), frame)
	if err != nil {
		h.serviceError(w, "api.telemetry", err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) listVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.Vehicles(r.Context())
	if err != nil {
		h.serviceError(w, "api.vehicles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

func (h *Handlers) vehicleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.VehicleStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, "api.vehicle_status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) vehicleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	alerts, err := h.service.VehicleAlerts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		h.serviceError(w, "api.vehicle_alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

type bookRequest struct {
	VehicleID   string `json:"vehicle_id"`
	ServiceType string `json:"service_type"`
	Preferred   string `json:"preferred,omitempty"`
}

func (h *Handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var preferred time.Time
	if req.Preferred != "" {
		parsed, err := parseDayOrTime(req.Preferred)
		if err != nil {
			writeError(w, http.StatusBadRequest, "preferred must be RFC3339 or YYYY-MM-DD")
			return
		}
		preferred = parsed
	}
	appointment, err := h.service.ScheduleMaintenance(r.Context(), req.VehicleID, req.ServiceType, preferred)
	if err != nil {
		h.serviceError(w, "api.book_appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, appointment)
}

func (h *Handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	day := time.Now().Add(24 * time.Hour)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := parseDayOrTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be RFC3339 or YYYY-MM-DD")
			return
		}
		day = parsed
	}
	slots, err := h.service.AvailableSlots(r.Context(), day)
	if err != nil {
		h.serviceError(w, "api.available_slots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  day.Format("2006-01-02"),
		"slots": slots,
	})
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	appointment, err := h.service.CancelAppointment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, "api.cancel_appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}

func (h *Handlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var feedback models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&feedback); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	insights, err := h.service.SubmitFeedback(r.Context(), feedback)
	if err != nil {
		h.serviceError(w, "api.feedback", err)
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func (h *Handlers) feedbackSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.FeedbackSummary(r.Context(), r.URL.Query().Get("vehicle_id"))
	if err != nil {
		h.serviceError(w, "api.feedback_summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	reply, err := h.service.CustomerQuery(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.serviceError(w, "api.chat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": req.SessionID,
		"reply":      reply,
	})
}

func (h *Handlers) activitySummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ActivitySummary(r.URL.Query().Get("entity")))
}

func (h *Handlers) recentActivity(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 20)
	writeJSON(w, http.StatusOK, map[string]any{"events": h.service.RecentActivity(n)})
}

// serviceError maps domain failures onto status codes. Anything unexpected
// is logged and surfaced as a 500.
func (h *Handlers) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, utils.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, agents.ErrNoFreeSlot):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appErr := utils.NewAppError(op, "internal error", err)
		h.logger.Error("request failed", slog.Any("error", appErr))
		writeError(w, http.StatusInternalServerError, appErr.Error())
	}
}

func parseDayOrTime(value string) (time.Time, error) {
	if t, err := utils.ParseRFC3339(value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", value, time.Local)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
