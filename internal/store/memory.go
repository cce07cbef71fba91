package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// historyLimit bounds the telemetry frames retained per vehicle.
const historyLimit = 200

// MemoryStore is the in-process Store used for local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	telemetry     map[string][]models.TelemetryFrame
	analyses      map[string]models.AnalysisResult
	diagnoses     map[string]models.DiagnosisResult
	alerts        map[string][]models.Alert
	appointments  map[string]models.Appointment
	feedback      []models.Feedback
	conversations map[string][]models.ConversationTurn
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		telemetry:     make(map[string][]models.TelemetryFrame),
		analyses:      make(map[string]models.AnalysisResult),
		diagnoses:     make(map[string]models.DiagnosisResult),
		alerts:        make(map[string][]models.Alert),
		appointments:  make(map[string]models.Appointment),
		conversations: make(map[string][]models.ConversationTurn),
	}
}

func (s *MemoryStore) SaveTelemetry(ctx context.Context, frame models.TelemetryFrame) error {
	if frame.VehicleID == "" {
		return fmt.Errorf("telemetry frame missing vehicle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.telemetry[frame.VehicleID], frame)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	s.telemetry[frame.VehicleID] = history
	return nil
}

func (s *MemoryStore) TelemetryHistory(ctx context.Context, vehicleID string, limit int) ([]models.TelemetryFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.telemetry[vehicleID]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]models.TelemetryFrame, limit)
	copy(out, history[len(history)-limit:])
	return out, nil
}

func (s *MemoryStore) SaveAnalysis(ctx context.Context, analysis *models.AnalysisResult) error {
	if analysis == nil || analysis.VehicleID == "" {
		return fmt.Errorf("analysis missing vehicle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[analysis.VehicleID] = *analysis
	return nil
}

func (s *MemoryStore) LatestAnalysis(ctx context.Context, vehicleID string) (*models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	analysis, ok := s.analyses[vehicleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &analysis, nil
}

func (s *MemoryStore) SaveDiagnosis(ctx context.Context, diagnosis *models.DiagnosisResult) error {
	if diagnosis == nil || diagnosis.VehicleID == "" {
		return fmt.Errorf("diagnosis missing vehicle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnoses[diagnosis.VehicleID] = *diagnosis
	return nil
}

func (s *MemoryStore) LatestDiagnosis(ctx context.Context, vehicleID string) (*models.DiagnosisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	diagnosis, ok := s.diagnoses[vehicleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &diagnosis, nil
}

func (s *MemoryStore) SaveAlert(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" || alert.VehicleID == "" {
		return fmt.Errorf("alert missing id or vehicle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.VehicleID] = append(s.alerts[alert.VehicleID], alert)
	return nil
}

// AlertsForVehicle returns the newest alerts first.
func (s *MemoryStore) AlertsForVehicle(ctx context.Context, vehicleID string, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := s.alerts[vehicleID]
	if limit <= 0 || limit > len(alerts) {
		limit = len(alerts)
	}
	out := make([]models.Alert, 0, limit)
	for i := len(alerts) - 1; i >= len(alerts)-limit; i-- {
		out = append(out, alerts[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveAppointment(ctx context.Context, appointment *models.Appointment) error {
	if appointment == nil || appointment.ID == "" {
		return fmt.Errorf("appointment missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[appointment.ID] = *appointment
	return nil
}

func (s *MemoryStore) Appointment(ctx context.Context, id string) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appointment, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &appointment, nil
}

// AppointmentsBetween returns appointments whose slot starts inside
// [start, end), earliest first.
func (s *MemoryStore) AppointmentsBetween(ctx context.Context, start, end time.Time) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Appointment, 0)
	for _, appointment := range s.appointments {
		if appointment.SlotStart.Before(start) || !appointment.SlotStart.Before(end) {
			continue
		}
		out = append(out, appointment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out, nil
}

func (s *MemoryStore) AppointmentsForVehicle(ctx context.Context, vehicleID string) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Appointment, 0)
	for _, appointment := range s.appointments {
		if appointment.VehicleID == vehicleID {
			out = append(out, appointment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out, nil
}

func (s *MemoryStore) SaveFeedback(ctx context.Context, feedback models.Feedback) error {
	if feedback.ID == "" || feedback.VehicleID == "" {
		return fmt.Errorf("feedback missing id or vehicle id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, feedback)
	return nil
}

// FeedbackHistory returns submissions in insertion order. An empty
// vehicleID matches the whole fleet.
func (s *MemoryStore) FeedbackHistory(ctx context.Context, vehicleID string) ([]models.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Feedback, 0, len(s.feedback))
	for _, feedback := range s.feedback {
		if vehicleID != "" && feedback.VehicleID != vehicleID {
			continue
		}
		out = append(out, feedback)
	}
	return out, nil
}

func (s *MemoryStore) SaveConversationTurn(ctx context.Context, turn models.ConversationTurn) error {
	if turn.SessionID == "" {
		return fmt.Errorf("conversation turn missing session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[turn.SessionID] = append(s.conversations[turn.SessionID], turn)
	return nil
}

// Conversation returns the last limit turns in chronological order.
func (s *MemoryStore) Conversation(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.conversations[sessionID]
	if limit <= 0 || limit > len(turns) {
		limit = len(turns)
	}
	out := make([]models.ConversationTurn, limit)
	copy(out, turns[len(turns)-limit:])
	return out, nil
}

// Vehicles lists every vehicle id seen by any write, sorted.
func (s *MemoryStore) Vehicles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for id := range s.telemetry {
		seen[id] = struct{}{}
	}
	for id := range s.analyses {
		seen[id] = struct{}{}
	}
	for id := range s.diagnoses {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
