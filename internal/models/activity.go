package models

import "time"

// ActivityEvent records a single action taken by an internal agent.
// Events are immutable once appended to the ledger.
type ActivityEvent struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Action     string            `json:"action"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// EntityProfile declares the expected behaviour envelope for one entity.
// An entity without a profile is unrestricted by policy.
type EntityProfile struct {
	Entity            string   `json:"entity"`
	MaxCallsPerMinute int      `json:"max_calls_per_minute"`
	AllowedActions    []string `json:"allowed_actions"`
}

// FindingKind enumerates anomaly finding categories.
type FindingKind string

const (
	FindingRateLimit    FindingKind = "rate_limit_exceeded"
	FindingUnauthorized FindingKind = "unauthorized_action"
	FindingOutlier      FindingKind = "statistical_outlier"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank maps a severity onto a totally ordered scale for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AnomalyFinding describes one detected violation on a recorded event.
type AnomalyFinding struct {
	Kind     FindingKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Detail   string      `json:"detail"`

	// Rate findings carry the observed count against the limit.
	Observed int `json:"observed,omitempty"`
	Limit    int `json:"limit,omitempty"`

	// Outlier findings carry the model score against the threshold.
	Score     float64 `json:"score,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// AnomalyReport is the outcome of evaluating one activity event at record
// time. Reports are never revised by later events.
type AnomalyReport struct {
	ID          string           `json:"id"`
	Entity      string           `json:"entity"`
	Action      string           `json:"action"`
	OccurredAt  time.Time        `json:"occurred_at"`
	Findings    []AnomalyFinding `json:"findings"`
	MaxSeverity Severity         `json:"max_severity,omitempty"`
}

// Anomalous reports whether the evaluation produced any findings.
func (r AnomalyReport) Anomalous() bool {
	return len(r.Findings) > 0
}

// MaxFindingSeverity returns the highest severity across findings, or the
// zero severity when the slice is empty.
func MaxFindingSeverity(findings []AnomalyFinding) Severity {
	var max Severity
	for _, f := range findings {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

// ActivitySummary is a point-in-time snapshot of retained ledger activity.
type ActivitySummary struct {
	TotalEvents int             `json:"total_events"`
	ByEntity    map[string]int  `json:"by_entity"`
	ByAction    map[string]int  `json:"by_action"`
	Recent      []ActivityEvent `json:"recent"`
}
