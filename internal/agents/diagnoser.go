package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
)

// thresholdRule maps a component health score to the service it demands.
// Rules are evaluated in order; every matching rule contributes a finding,
// the first critical match (or failing that the first warning match)
// supplies the recommended action.
type thresholdRule struct {
	component string
	threshold float64
	level     models.AlertLevel
	action    string
	auto      bool
}

var thresholdRules = []thresholdRule{
	{"battery", 30, models.AlertCritical, "battery_replacement", true},
	{"engine", 40, models.AlertCritical, "engine_inspection", true},
	{"brakes", 30, models.AlertCritical, "brake_replacement", true},
	{"oil", 40, models.AlertWarning, "oil_change", false},
	{"overall", 50, models.AlertWarning, "general_inspection", false},
}

// outlookScale converts health margin above the service threshold into an
// estimated number of days before service is due.
const outlookScale = 3

// FailureDiagnoser turns an analysis into a service verdict: alert level,
// recommended action, and whether the booking should happen automatically.
type FailureDiagnoser struct {
	logger *slog.Logger
	store  store.Store
}

// NewFailureDiagnoser constructs the diagnoser. The store is optional.
func NewFailureDiagnoser(logger *slog.Logger, st store.Store) *FailureDiagnoser {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureDiagnoser{logger: logger, store: st}
}

func (d *FailureDiagnoser) Diagnose(ctx context.Context, analysis *models.AnalysisResult) (*models.DiagnosisResult, error) {
	if analysis == nil || analysis.VehicleID == "" {
		return nil, fmt.Errorf("no analysis to diagnose")
	}

	scores := analysis.HealthScores
	level := models.AlertNone
	action := ""
	auto := false
	findings := make([]string, 0, 2)

	for _, rule := range thresholdRules {
		score, ok := scores[rule.component]
		if !ok || score >= rule.threshold {
			continue
		}
		findings = append(findings, fmt.Sprintf("%s health %.0f below service threshold %.0f", rule.component, score, rule.threshold))
		switch {
		case rule.level == models.AlertCritical && level != models.AlertCritical:
			level = models.AlertCritical
			action = rule.action
			auto = rule.auto
		case rule.level == models.AlertWarning && level == models.AlertNone:
			level = models.AlertWarning
			action = rule.action
		}
	}

	if len(analysis.SensorAnomalies) > 0 {
		for _, anomaly := range analysis.SensorAnomalies {
			findings = append(findings, anomaly.Detail)
		}
		if level == models.AlertNone {
			level = models.AlertWarning
			action = "diagnostic_check"
		}
	}

	diagnosis := &models.DiagnosisResult{
		VehicleID:         analysis.VehicleID,
		Critical:          level == models.AlertCritical,
		AlertLevel:        level,
		RecommendedAction: action,
		AutoSchedule:      auto,
		Findings:          findings,
		Outlook:           componentOutlook(scores),
		HealthScores:      scores,
		CreatedAt:         time.Now().UTC(),
	}

	if d.store != nil {
		if err := d.store.SaveDiagnosis(ctx, diagnosis); err != nil {
			d.logger.Warn("diagnosis not persisted",
				slog.String("vehicle_id", diagnosis.VehicleID), slog.Any("error", err))
		}
	}

	return diagnosis, nil
}

// componentOutlook estimates days until each ruled component reaches its
// service threshold, assuming roughly linear wear. Components already past
// the threshold are due now.
func componentOutlook(scores map[string]float64) []models.ComponentOutlook {
	outlook := make([]models.ComponentOutlook, 0, len(thresholdRules))
	for _, rule := range thresholdRules {
		if rule.component == "overall" {
			continue
		}
		score, ok := scores[rule.component]
		if !ok {
			continue
		}
		days := 0
		if margin := score - rule.threshold; margin > 0 {
			days = int(margin * outlookScale)
			if days > 365 {
				days = 365
			}
		}
		outlook = append(outlook, models.ComponentOutlook{
			Component:     rule.component,
			Score:         score,
			EstimatedDays: days,
		})
	}
	return outlook
}
