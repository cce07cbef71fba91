package ueba

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/metrics"
	"github.com/fleetstack/fleetguard/internal/models"
)

// handlerTimeout bounds one synchronous handler invocation.
const handlerTimeout = 5 * time.Second

// Monitor records agent activity and evaluates every event at record time.
// Recording never fails and never destabilises the caller: internal
// problems degrade capability and are logged.
type Monitor struct {
	logger  *slog.Logger
	ledger  *Ledger
	policy  *Evaluator
	scorer  *OutlierScorer
	handler AnomalyHandler

	now func() time.Time
}

// NewMonitor wires the ledger, policy evaluator, optional scorer, and
// handler. A nil scorer disables statistical scoring; a nil handler falls
// back to log-only escalation.
func NewMonitor(logger *slog.Logger, ledger *Ledger, policy *Evaluator, scorer *OutlierScorer, handler AnomalyHandler) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if handler == nil {
		handler = NewLogHandler(logger)
	}
	return &Monitor{
		logger:  logger,
		ledger:  ledger,
		policy:  policy,
		scorer:  scorer,
		handler: handler,
		now:     time.Now,
	}
}

// Record appends one activity event and returns its evaluation. The report
// reflects only data observable now; later events never revise it.
func (m *Monitor) Record(entity, action string, metadata map[string]string) models.AnomalyReport {
	occurred := m.now().UTC()
	event := models.ActivityEvent{
		ID:         uuid.NewString(),
		Entity:     entity,
		Action:     action,
		OccurredAt: occurred,
		Metadata:   copyMetadata(metadata),
	}

	m.ledger.Append(event)
	metrics.RecordActivityEvent(entity)
	metrics.SetLedgerSize(m.ledger.Len())

	findings := m.policy.Evaluate(event, m.ledger)
	if m.scorer != nil {
		if verdict, score := m.scorer.Score(event); verdict == VerdictOutlier {
			findings = append(findings, models.AnomalyFinding{
				Kind:     models.FindingOutlier,
				Severity: models.SeverityMedium,
				Detail: fmt.Sprintf("behaviour score %.3f at or above threshold %.2f",
					score, m.scorer.Threshold()),
				Score:     score,
				Threshold: m.scorer.Threshold(),
			})
		}
	}

	report := models.AnomalyReport{
		ID:          uuid.NewString(),
		Entity:      entity,
		Action:      action,
		OccurredAt:  occurred,
		Findings:    findings,
		MaxSeverity: models.MaxFindingSeverity(findings),
	}

	if report.Anomalous() {
		m.logReport(report)
		for _, finding := range findings {
			metrics.RecordFinding(string(finding.Kind), string(finding.Severity))
		}
		m.dispatch(report)
	}

	return report
}

// Summary returns a consistent snapshot of retained activity, restricted
// to one entity when a non-empty name is given.
func (m *Monitor) Summary(entity string) models.ActivitySummary {
	return m.ledger.Summarize(entity)
}

// Ledger exposes the underlying ledger for read access.
func (m *Monitor) Ledger() *Ledger {
	return m.ledger
}

func (m *Monitor) logReport(report models.AnomalyReport) {
	attrs := []any{
		slog.String("report_id", report.ID),
		slog.String("entity", report.Entity),
		slog.String("action", report.Action),
		slog.Int("findings", len(report.Findings)),
		slog.String("max_severity", string(report.MaxSeverity)),
	}
	switch report.MaxSeverity {
	case models.SeverityCritical:
		m.logger.Error("anomalous activity recorded", attrs...)
	case models.SeverityHigh:
		m.logger.Warn("anomalous activity recorded", attrs...)
	default:
		m.logger.Info("anomalous activity recorded", attrs...)
	}
}

func (m *Monitor) dispatch(report models.AnomalyReport) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := m.handler.HandleAnomaly(ctx, report); err != nil {
		m.logger.Warn("anomaly handler failed",
			slog.String("report_id", report.ID),
			slog.Any("error", err))
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
