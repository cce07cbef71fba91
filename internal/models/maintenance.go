package models

import "time"

// NotificationChannel enumerates how a customer alert was rendered.
type NotificationChannel string

const (
	ChannelLog       NotificationChannel = "log"
	ChannelAssistant NotificationChannel = "assistant"
)

// NotificationOutcome records one customer alert delivery.
type NotificationOutcome struct {
	AlertID   string              `json:"alert_id"`
	VehicleID string              `json:"vehicle_id"`
	Level     AlertLevel          `json:"level"`
	Message   string              `json:"message"`
	Channel   NotificationChannel `json:"channel"`
	SentAt    time.Time           `json:"sent_at"`
}

// ScheduleStatus enumerates scheduling outcomes.
type ScheduleStatus string

const (
	ScheduleBooked      ScheduleStatus = "scheduled"
	ScheduleUnavailable ScheduleStatus = "unavailable"
)

// ScheduleOutcome reports the result of a scheduling attempt. Unavailable
// outcomes carry the reason and no appointment.
type ScheduleOutcome struct {
	Status      ScheduleStatus `json:"status"`
	Appointment *Appointment   `json:"appointment,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// AppointmentStatus enumerates appointment lifecycle states.
type AppointmentStatus string

const (
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is a booked maintenance slot.
type Appointment struct {
	ID          string            `json:"id"`
	VehicleID   string            `json:"vehicle_id"`
	ServiceType string            `json:"service_type"`
	SlotStart   time.Time         `json:"slot_start"`
	SlotEnd     time.Time         `json:"slot_end"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Alert is a persisted customer-facing alert.
type Alert struct {
	ID          string     `json:"id"`
	VehicleID   string     `json:"vehicle_id"`
	Level       AlertLevel `json:"level"`
	Message     string     `json:"message"`
	ServiceType string     `json:"service_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Feedback is a customer's post-service submission.
type Feedback struct {
	ID               string         `json:"id"`
	VehicleID        string         `json:"vehicle_id"`
	ServiceID        string         `json:"service_id,omitempty"`
	Rating           int            `json:"rating"`
	Comments         string         `json:"comments,omitempty"`
	ComponentRatings map[string]int `json:"component_ratings,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Sentiment enumerates feedback tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// FeedbackInsights is the derived read on one feedback submission.
type FeedbackInsights struct {
	Sentiment       Sentiment `json:"sentiment"`
	Keywords        []string  `json:"keywords,omitempty"`
	ComponentIssues []string  `json:"component_issues,omitempty"`
	FollowUpNeeded  bool      `json:"follow_up_needed"`
}

// KeywordCount pairs a surfaced term with how often it appeared.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// FeedbackSummary aggregates submissions for one vehicle, or fleet-wide
// when VehicleID is empty.
type FeedbackSummary struct {
	VehicleID        string         `json:"vehicle_id,omitempty"`
	TotalSubmissions int            `json:"total_submissions"`
	AverageRating    float64        `json:"average_rating"`
	BySentiment      map[string]int `json:"by_sentiment"`
	TopKeywords      []KeywordCount `json:"top_keywords,omitempty"`
	ComponentIssues  []KeywordCount `json:"component_issues,omitempty"`
	FollowUpsNeeded  int            `json:"follow_ups_needed"`
	LastSubmission   time.Time      `json:"last_submission,omitempty"`
}

// ConversationTurn is one persisted message in a customer chat session.
type ConversationTurn struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// VehicleStatus aggregates the latest known state for one vehicle.
type VehicleStatus struct {
	VehicleID   string           `json:"vehicle_id"`
	Analysis    *AnalysisResult  `json:"analysis,omitempty"`
	Diagnosis   *DiagnosisResult `json:"diagnosis,omitempty"`
	OpenAlerts  []Alert          `json:"open_alerts,omitempty"`
	Upcoming    []Appointment    `json:"upcoming,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}
