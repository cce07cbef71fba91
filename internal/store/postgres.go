package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fleetstack/fleetguard/internal/models"
)

// PostgresStore backs the Store interface with PostgreSQL. Structured
// payloads (analyses, diagnoses, telemetry frames, feedback) live in JSONB
// columns keyed by the fields queries filter on.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection, applies migrations, and
// configures the pool.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS telemetry (
		id BIGSERIAL PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
		payload JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_vehicle ON telemetry(vehicle_id, recorded_at DESC);

	CREATE TABLE IF NOT EXISTS vehicle_analyses (
		vehicle_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS vehicle_diagnoses (
		vehicle_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		service_type TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_vehicle ON alerts(vehicle_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		slot_start TIMESTAMP WITH TIME ZONE NOT NULL,
		slot_end TIMESTAMP WITH TIME ZONE NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_appointments_slot ON appointments(slot_start);
	CREATE INDEX IF NOT EXISTS idx_appointments_vehicle ON appointments(vehicle_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, id);`

	_, err := s.db.Exec(query)
	return err
}

func (s *PostgresStore) SaveTelemetry(ctx context.Context, frame models.TelemetryFrame) error {
	if frame.VehicleID == "" {
		return fmt.Errorf("telemetry frame missing vehicle id")
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode telemetry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry (vehicle_id, recorded_at, payload) VALUES ($1, $2, $3)`,
		frame.VehicleID, frame.RecordedAt, payload)
	return err
}

func (s *PostgresStore) TelemetryHistory(ctx context.Context, vehicleID string, limit int) ([]models.TelemetryFrame, error) {
	if limit <= 0 {
		limit = historyLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM telemetry WHERE vehicle_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	frames := make([]models.TelemetryFrame, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var frame models.TelemetryFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w", err)
		}
		frames = append(frames, frame)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first, matching the in-memory store.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames, nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, analysis *models.AnalysisResult) error {
	if analysis == nil || analysis.VehicleID == "" {
		return fmt.Errorf("analysis missing vehicle id")
	}
	return s.upsertPayload(ctx, "vehicle_analyses", analysis.VehicleID, analysis)
}

func (s *PostgresStore) LatestAnalysis(ctx context.Context, vehicleID string) (*models.AnalysisResult, error) {
	var analysis models.AnalysisResult
	if err := s.selectPayload(ctx, "vehicle_analyses", vehicleID, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (s *PostgresStore) SaveDiagnosis(ctx context.Context, diagnosis *models.DiagnosisResult) error {
	if diagnosis == nil || diagnosis.VehicleID == "" {
		return fmt.Errorf("diagnosis missing vehicle id")
	}
	return s.upsertPayload(ctx, "vehicle_diagnoses", diagnosis.VehicleID, diagnosis)
}

func (s *PostgresStore) LatestDiagnosis(ctx context.Context, vehicleID string) (*models.DiagnosisResult, error) {
	var diagnosis models.DiagnosisResult
	if err := s.selectPayload(ctx, "vehicle_diagnoses", vehicleID, &diagnosis); err != nil {
		return nil, err
	}
	return &diagnosis, nil
}

// upsertPayload and selectPayload cover the two latest-state tables, which
// share a vehicle_id + JSONB shape.
func (s *PostgresStore) upsertPayload(ctx context.Context, table, vehicleID string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (vehicle_id, payload, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (vehicle_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, table)
	_, err = s.db.ExecContext(ctx, query, vehicleID, payload)
	return err
}

func (s *PostgresStore) selectPayload(ctx context.Context, table, vehicleID string, dst any) error {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE vehicle_id = $1`, table)
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, vehicleID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}

func (s *PostgresStore) SaveAlert(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" || alert.VehicleID == "" {
		return fmt.Errorf("alert missing id or vehicle id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, vehicle_id, level, message, service_type, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.ID, alert.VehicleID, alert.Level, alert.Message, alert.ServiceType, alert.CreatedAt)
	return err
}

func (s *PostgresStore) AlertsForVehicle(ctx context.Context, vehicleID string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vehicle_id, level, message, COALESCE(service_type, ''), created_at
		 FROM alerts WHERE vehicle_id = $1 ORDER BY created_at DESC LIMIT $2`,
		vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0, limit)
	for rows.Next() {
		var alert models.Alert
		if err := rows.Scan(&alert.ID, &alert.VehicleID, &alert.Level, &alert.Message, &alert.ServiceType, &alert.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) SaveAppointment(ctx context.Context, appointment *models.Appointment) error {
	if appointment == nil || appointment.ID == "" {
		return fmt.Errorf("appointment missing id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, vehicle_id, service_type, slot_start, slot_end, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		appointment.ID, appointment.VehicleID, appointment.ServiceType,
		appointment.SlotStart, appointment.SlotEnd, appointment.Status, appointment.CreatedAt)
	return err
}

func (s *PostgresStore) Appointment(ctx context.Context, id string) (*models.Appointment, error) {
	var appointment models.Appointment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vehicle_id, service_type, slot_start, slot_end, status, created_at
		 FROM appointments WHERE id = $1`, id).
		Scan(&appointment.ID, &appointment.VehicleID, &appointment.ServiceType,
			&appointment.SlotStart, &appointment.SlotEnd, &appointment.Status, &appointment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &appointment, nil
}

func (s *PostgresStore) AppointmentsBetween(ctx context.Context, start, end time.Time) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vehicle_id, service_type, slot_start, slot_end, status, created_at
		 FROM appointments WHERE slot_start >= $1 AND slot_start < $2 ORDER BY slot_start`,
		start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (s *PostgresStore) AppointmentsForVehicle(ctx context.Context, vehicleID string) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vehicle_id, service_type, slot_start, slot_end, status, created_at
		 FROM appointments WHERE vehicle_id = $1 ORDER BY slot_start`,
		vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func scanAppointments(rows *sql.Rows) ([]models.Appointment, error) {
	appointments := make([]models.Appointment, 0)
	for rows.Next() {
		var appointment models.Appointment
		if err := rows.Scan(&appointment.ID, &appointment.VehicleID, &appointment.ServiceType,
			&appointment.SlotStart, &appointment.SlotEnd, &appointment.Status, &appointment.CreatedAt); err != nil {
			return nil, err
		}
		appointments = append(appointments, appointment)
	}
	return appointments, rows.Err()
}

func (s *PostgresStore) SaveFeedback(ctx context.Context, feedback models.Feedback) error {
	if feedback.ID == "" || feedback.VehicleID == "" {
		return fmt.Errorf("feedback missing id or vehicle id")
	}
	payload, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, vehicle_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		feedback.ID, feedback.VehicleID, payload, feedback.CreatedAt)
	return err
}

// FeedbackHistory returns submissions oldest first. An empty vehicleID
// matches the whole fleet.
func (s *PostgresStore) FeedbackHistory(ctx context.Context, vehicleID string) ([]models.Feedback, error) {
	query := `SELECT payload FROM feedback ORDER BY created_at`
	args := make([]any, 0, 1)
	if vehicleID != "" {
		query = `SELECT payload FROM feedback WHERE vehicle_id = $1 ORDER BY created_at`
		args = append(args, vehicleID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]models.Feedback, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var feedback models.Feedback
		if err := json.Unmarshal(payload, &feedback); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		history = append(history, feedback)
	}
	return history, rows.Err()
}

func (s *PostgresStore) SaveConversationTurn(ctx context.Context, turn models.ConversationTurn) error {
	if turn.SessionID == "" {
		return fmt.Errorf("conversation turn missing session id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		turn.SessionID, turn.Role, turn.Content, turn.CreatedAt)
	return err
}

func (s *PostgresStore) Conversation(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, role, content, created_at FROM
		 (SELECT id, session_id, role, content, created_at FROM conversations
		  WHERE session_id = $1 ORDER BY id DESC LIMIT $2) latest
		 ORDER BY id`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]models.ConversationTurn, 0, limit)
	for rows.Next() {
		var turn models.ConversationTurn
		if err := rows.Scan(&turn.SessionID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *PostgresStore) Vehicles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vehicle_id FROM telemetry
		 UNION SELECT vehicle_id FROM vehicle_analyses
		 UNION SELECT vehicle_id FROM vehicle_diagnoses
		 ORDER BY vehicle_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vehicles := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		vehicles = append(vehicles, id)
	}
	return vehicles, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
