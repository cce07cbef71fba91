package models

import "time"

// TelemetryFrame is one sensor reading reported by a vehicle.
type TelemetryFrame struct {
	VehicleID         string    `json:"vehicle_id"`
	RecordedAt        time.Time `json:"recorded_at"`
	BatteryVoltage    float64   `json:"battery_voltage"`
	EngineTemp        float64   `json:"engine_temp"`
	OilPressure       float64   `json:"oil_pressure"`
	BrakePadThickness float64   `json:"brake_pad_thickness"`
	TirePressure      float64   `json:"tire_pressure"`
	Mileage           float64   `json:"mileage"`
	RPM               float64   `json:"rpm"`
	Speed             float64   `json:"speed"`
}

// AnalysisStatus enumerates analyzer outcomes.
type AnalysisStatus string

const (
	AnalysisNormal  AnalysisStatus = "normal"
	AnalysisAnomaly AnalysisStatus = "anomaly_detected"
)

// SensorAnomaly flags one sensor channel outside its safe envelope.
type SensorAnomaly struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Detail string  `json:"detail"`
}

// AnalysisResult summarises one telemetry frame: sensor anomalies plus
// per-component health scores on a 0-100 scale.
type AnalysisResult struct {
	VehicleID       string             `json:"vehicle_id"`
	Status          AnalysisStatus     `json:"status"`
	SensorAnomalies []SensorAnomaly    `json:"sensor_anomalies,omitempty"`
	HealthScores    map[string]float64 `json:"health_scores"`
	CreatedAt       time.Time          `json:"created_at"`
}

// AlertLevel enumerates diagnosis urgency.
type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// ComponentOutlook estimates when a component will need service.
type ComponentOutlook struct {
	Component     string  `json:"component"`
	Score         float64 `json:"score"`
	EstimatedDays int     `json:"estimated_days"`
}

// DiagnosisResult is the diagnoser's verdict on an analysis: whether the
// condition is critical, what service is recommended, and whether the
// orchestrator should book it automatically.
type DiagnosisResult struct {
	VehicleID         string             `json:"vehicle_id"`
	Critical          bool               `json:"critical"`
	AlertLevel        AlertLevel         `json:"alert_level"`
	RecommendedAction string             `json:"recommended_action,omitempty"`
	AutoSchedule      bool               `json:"auto_schedule"`
	Findings          []string           `json:"findings,omitempty"`
	Outlook           []ComponentOutlook `json:"outlook,omitempty"`
	HealthScores      map[string]float64 `json:"health_scores,omitempty"`
	Scheduling        *ScheduleOutcome   `json:"scheduling,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// PipelineOutcome is the result of one full pipeline run. A stage that was
// not entered leaves its field nil; the scheduling result travels on the
// diagnosis.
type PipelineOutcome struct {
	RunID        string               `json:"run_id"`
	VehicleID    string               `json:"vehicle_id"`
	Analysis     *AnalysisResult      `json:"analysis,omitempty"`
	Diagnosis    *DiagnosisResult     `json:"diagnosis,omitempty"`
	Notification *NotificationOutcome `json:"notification,omitempty"`
	Critical     bool                 `json:"critical"`
	StartedAt    time.Time            `json:"started_at"`
	CompletedAt  time.Time            `json:"completed_at"`
}
