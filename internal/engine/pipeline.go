package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/utils"
)

// Analyzer turns one telemetry frame into an analysis result.
type Analyzer interface {
	Analyze(ctx context.Context, frame models.TelemetryFrame) (*models.AnalysisResult, error)
}

// Diagnoser evaluates an analysis and decides criticality, the recommended
// service, and whether to book it automatically.
type Diagnoser interface {
	Diagnose(ctx context.Context, analysis *models.AnalysisResult) (*models.DiagnosisResult, error)
}

// Notifier delivers the customer alert for an urgent diagnosis.
type Notifier interface {
	Notify(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.NotificationOutcome, error)
}

// Scheduler books maintenance for an auto-schedulable diagnosis.
type Scheduler interface {
	AutoSchedule(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.ScheduleOutcome, error)
}

// ActivityRecorder observes agent calls issued by the orchestrator. The
// behaviour monitor satisfies it; its reports never alter pipeline control
// flow.
type ActivityRecorder interface {
	Record(entity, action string, metadata map[string]string) models.AnomalyReport
}

// Stage names the pipeline's states.
type Stage string

const (
	StageReceived  Stage = "received"
	StageAnalyzed  Stage = "analyzed"
	StageDiagnosed Stage = "diagnosed"
	StageNotified  Stage = "notified"
	StageScheduled Stage = "scheduled"
	StageDone      Stage = "done"
)

// Pipeline drives one telemetry frame through the staged maintenance flow:
// received, analyzed, diagnosed, then notification when the diagnosis is
// critical and scheduling when that critical diagnosis also requests
// auto-booking. Stage order is fixed; no stage runs before its predecessor
// succeeds.
type Pipeline struct {
	logger    *slog.Logger
	analyzer  Analyzer
	diagnoser Diagnoser
	notifier  Notifier
	scheduler Scheduler
	recorder  ActivityRecorder
}

// NewPipeline constructs the orchestrator. The recorder may be nil, which
// disables activity monitoring; the scheduler may be nil, which degrades
// auto-scheduling to an unavailable marker.
func NewPipeline(
	logger *slog.Logger,
	analyzer Analyzer,
	diagnoser Diagnoser,
	notifier Notifier,
	scheduler Scheduler,
	recorder ActivityRecorder,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:    logger,
		analyzer:  analyzer,
		diagnoser: diagnoser,
		notifier:  notifier,
		scheduler: scheduler,
		recorder:  recorder,
	}
}

// Run executes the state machine for one frame. The returned outcome holds
// results for exactly the stages that were entered. Cancellation is honoured
// at stage boundaries; events already recorded stay in the ledger.
func (p *Pipeline) Run(ctx context.Context, frame models.TelemetryFrame) (*models.PipelineOutcome, error) {
	if p.analyzer == nil || p.diagnoser == nil {
		return nil, fmt.Errorf("pipeline not fully configured")
	}

	outcome := &models.PipelineOutcome{
		RunID:     uuid.NewString(),
		VehicleID: frame.VehicleID,
		StartedAt: time.Now().UTC(),
	}

	// Recording happens before the work it describes, so the ledger shows
	// attempts, not just successes.
	p.record("master_agent", "process_telematics_data", frame.VehicleID)
	if frame.VehicleID == "" {
		return nil, fmt.Errorf("telemetry frame missing vehicle id: %w", utils.ErrInvalidInput)
	}

	if err := stageGate(ctx, StageAnalyzed, frame.VehicleID); err != nil {
		return nil, err
	}
	p.record("data_analysis_agent", "analyze_data", frame.VehicleID)
	analysis, err := p.analyzer.Analyze(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("analyze stage: vehicle %s: %w", frame.VehicleID, err)
	}
	outcome.Analysis = analysis

	if err := stageGate(ctx, StageDiagnosed, frame.VehicleID); err != nil {
		return nil, err
	}
	p.record("diagnosis_agent", "predict_failures", frame.VehicleID)
	diagnosis, err := p.diagnoser.Diagnose(ctx, analysis)
	if err != nil {
		return nil, fmt.Errorf("diagnose stage: vehicle %s: %w", frame.VehicleID, err)
	}
	outcome.Diagnosis = diagnosis
	outcome.Critical = diagnosis.Critical

	if diagnosis.Critical {
		if err := stageGate(ctx, StageNotified, frame.VehicleID); err != nil {
			return nil, err
		}
		if p.notifier == nil {
			return nil, fmt.Errorf("notify stage: vehicle %s: notifier not configured", frame.VehicleID)
		}
		p.record("customer_agent", "send_alert", frame.VehicleID)
		notification, err := p.notifier.Notify(ctx, diagnosis)
		if err != nil {
			return nil, fmt.Errorf("notify stage: vehicle %s: %w", frame.VehicleID, err)
		}
		outcome.Notification = notification
	}

	// Auto-booking is reachable only from a critical diagnosis; an injected
	// Diagnoser setting AutoSchedule on a non-critical result is ignored.
	if diagnosis.Critical && diagnosis.AutoSchedule {
		if err := stageGate(ctx, StageScheduled, frame.VehicleID); err != nil {
			return nil, err
		}
		p.record("scheduling_agent", "auto_schedule", frame.VehicleID)
		diagnosis.Scheduling = p.autoSchedule(ctx, diagnosis)
	}

	outcome.CompletedAt = time.Now().UTC()
	p.logger.Info("pipeline run complete",
		slog.String("run_id", outcome.RunID),
		slog.String("vehicle_id", frame.VehicleID),
		slog.Bool("critical", outcome.Critical),
		slog.Bool("notified", outcome.Notification != nil),
		slog.Bool("scheduled", diagnosis.Scheduling != nil && diagnosis.Scheduling.Status == models.ScheduleBooked))
	return outcome, nil
}

// autoSchedule runs the scheduling stage. Scheduler failures degrade the run
// instead of aborting it: the customer is already notified, and a missed
// booking can be recovered by hand.
func (p *Pipeline) autoSchedule(ctx context.Context, diagnosis *models.DiagnosisResult) *models.ScheduleOutcome {
	if p.scheduler == nil {
		return &models.ScheduleOutcome{
			Status: models.ScheduleUnavailable,
			Reason: "scheduler not configured",
		}
	}
	schedule, err := p.scheduler.AutoSchedule(ctx, diagnosis)
	if err != nil {
		p.logger.Warn("auto scheduling unavailable",
			slog.String("vehicle_id", diagnosis.VehicleID),
			slog.Any("error", err))
		return &models.ScheduleOutcome{
			Status: models.ScheduleUnavailable,
			Reason: err.Error(),
		}
	}
	return schedule
}

func (p *Pipeline) record(entity, action, vehicleID string) {
	if p.recorder == nil {
		return
	}
	report := p.recorder.Record(entity, action, map[string]string{"vehicle_id": vehicleID})
	if report.Anomalous() {
		p.logger.Debug("recorded activity was flagged",
			slog.String("entity", entity),
			slog.String("action", action),
			slog.String("max_severity", string(report.MaxSeverity)))
	}
}

func stageGate(ctx context.Context, stage Stage, vehicleID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pipeline cancelled before %s stage: vehicle %s: %w", stage, vehicleID, err)
	}
	return nil
}
