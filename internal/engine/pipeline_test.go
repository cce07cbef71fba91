package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// runJournal captures record and collaborator calls in the order the
// pipeline makes them.
type runJournal struct {
	entries []string
}

func (j *runJournal) note(entry string) {
	j.entries = append(j.entries, entry)
}

type fakeRecorder struct {
	journal *runJournal
}

func (f *fakeRecorder) Record(entity, action string, metadata map[string]string) models.AnomalyReport {
	f.journal.note("record:" + entity + "/" + action)
	return models.AnomalyReport{}
}

type fakeAnalyzer struct {
	journal *runJournal
	err     error
	onCall  func()
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, frame models.TelemetryFrame) (*models.AnalysisResult, error) {
	if f.journal != nil {
		f.journal.note("call:analyze")
	}
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnalysisResult{
		VehicleID:    frame.VehicleID,
		Status:       models.AnalysisNormal,
		HealthScores: map[string]float64{"overall": 90},
		CreatedAt:    time.Now().UTC(),
	}, nil
}

type fakeDiagnoser struct {
	journal *runJournal
	result  *models.DiagnosisResult
	err     error
	calls   int
}

func (f *fakeDiagnoser) Diagnose(ctx context.Context, analysis *models.AnalysisResult) (*models.DiagnosisResult, error) {
	f.calls++
	if f.journal != nil {
		f.journal.note("call:diagnose")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.DiagnosisResult{
		VehicleID:  analysis.VehicleID,
		AlertLevel: models.AlertNone,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

type fakeNotifier struct {
	journal *runJournal
	err     error
	calls   int
}

func (f *fakeNotifier) Notify(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.NotificationOutcome, error) {
	f.calls++
	if f.journal != nil {
		f.journal.note("call:notify")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.NotificationOutcome{
		AlertID:   "alert-1",
		VehicleID: diagnosis.VehicleID,
		Level:     diagnosis.AlertLevel,
		Message:   "service needed",
		Channel:   models.ChannelLog,
		SentAt:    time.Now().UTC(),
	}, nil
}

type fakeScheduler struct {
	journal *runJournal
	outcome *models.ScheduleOutcome
	err     error
	calls   int
}

func (f *fakeScheduler) AutoSchedule(ctx context.Context, diagnosis *models.DiagnosisResult) (*models.ScheduleOutcome, error) {
	f.calls++
	if f.journal != nil {
		f.journal.note("call:schedule")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &models.ScheduleOutcome{
		Status: models.ScheduleBooked,
		Appointment: &models.Appointment{
			ID:          "apt-1",
			VehicleID:   diagnosis.VehicleID,
			ServiceType: diagnosis.RecommendedAction,
			Status:      models.AppointmentConfirmed,
		},
	}, nil
}

func testFrame(vehicleID string) models.TelemetryFrame {
	return models.TelemetryFrame{
		VehicleID:         vehicleID,
		RecordedAt:        time.Now().UTC(),
		BatteryVoltage:    12.6,
		EngineTemp:        90,
		OilPressure:       45,
		BrakePadThickness: 10,
		TirePressure:      32,
	}
}

func criticalDiagnosis(vehicleID string, autoSchedule bool) *models.DiagnosisResult {
	return &models.DiagnosisResult{
		VehicleID:         vehicleID,
		Critical:          true,
		AlertLevel:        models.AlertCritical,
		RecommendedAction: "battery_replacement",
		AutoSchedule:      autoSchedule,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestPipelineHealthyRun(t *testing.T) {
	journal := &runJournal{}
	notifier := &fakeNotifier{journal: journal}
	scheduler := &fakeScheduler{journal: journal}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{journal: journal},
		&fakeDiagnoser{journal: journal},
		notifier,
		scheduler,
		&fakeRecorder{journal: journal})

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH001"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Analysis == nil || outcome.Diagnosis == nil {
		t.Fatalf("expected analysis and diagnosis on outcome")
	}
	if outcome.Critical {
		t.Fatalf("healthy run should not be critical")
	}
	if outcome.Notification != nil {
		t.Fatalf("healthy run should not notify")
	}
	if outcome.Diagnosis.Scheduling != nil {
		t.Fatalf("healthy run should not schedule")
	}
	if notifier.calls != 0 || scheduler.calls != 0 {
		t.Fatalf("notifier/scheduler called on healthy run: %d/%d", notifier.calls, scheduler.calls)
	}

	want := []string{
		"record:master_agent/process_telematics_data",
		"record:data_analysis_agent/analyze_data",
		"call:analyze",
		"record:diagnosis_agent/predict_failures",
		"call:diagnose",
	}
	assertJournal(t, journal, want)
}

func TestPipelineCriticalRunNotifiesAndSchedules(t *testing.T) {
	journal := &runJournal{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{journal: journal},
		&fakeDiagnoser{journal: journal, result: criticalDiagnosis("VEH002", true)},
		&fakeNotifier{journal: journal},
		&fakeScheduler{journal: journal},
		&fakeRecorder{journal: journal})

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH002"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Critical {
		t.Fatalf("expected critical outcome")
	}
	if outcome.Notification == nil {
		t.Fatalf("expected notification")
	}
	if outcome.Diagnosis.Scheduling == nil || outcome.Diagnosis.Scheduling.Status != models.ScheduleBooked {
		t.Fatalf("expected booked schedule, got %+v", outcome.Diagnosis.Scheduling)
	}
	if outcome.Diagnosis.Scheduling.Appointment == nil {
		t.Fatalf("expected appointment on booked schedule")
	}

	want := []string{
		"record:master_agent/process_telematics_data",
		"record:data_analysis_agent/analyze_data",
		"call:analyze",
		"record:diagnosis_agent/predict_failures",
		"call:diagnose",
		"record:customer_agent/send_alert",
		"call:notify",
		"record:scheduling_agent/auto_schedule",
		"call:schedule",
	}
	assertJournal(t, journal, want)
}

func TestPipelineSchedulerFailureDegradesRun(t *testing.T) {
	journal := &runJournal{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{journal: journal},
		&fakeDiagnoser{journal: journal, result: criticalDiagnosis("VEH002", true)},
		&fakeNotifier{journal: journal},
		&fakeScheduler{journal: journal, err: errors.New("no garage slots")},
		&fakeRecorder{journal: journal})

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH002"))
	if err != nil {
		t.Fatalf("scheduler failure should not abort the run: %v", err)
	}
	if outcome.Notification == nil {
		t.Fatalf("notification must survive scheduler failure")
	}
	sched := outcome.Diagnosis.Scheduling
	if sched == nil || sched.Status != models.ScheduleUnavailable {
		t.Fatalf("expected unavailable schedule, got %+v", sched)
	}
	if !strings.Contains(sched.Reason, "no garage slots") {
		t.Fatalf("expected reason to carry scheduler error, got %q", sched.Reason)
	}
	if sched.Appointment != nil {
		t.Fatalf("unavailable schedule must not carry an appointment")
	}
	if outcome.CompletedAt.IsZero() {
		t.Fatalf("degraded run should still complete")
	}
}

func TestPipelineNotifierFailureAborts(t *testing.T) {
	scheduler := &fakeScheduler{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{},
		&fakeDiagnoser{result: criticalDiagnosis("VEH002", true)},
		&fakeNotifier{err: errors.New("assistant offline")},
		scheduler,
		nil)

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH002"))
	if err == nil {
		t.Fatalf("expected notifier failure to abort the run")
	}
	if outcome != nil {
		t.Fatalf("aborted run should not return an outcome")
	}
	if !strings.Contains(err.Error(), "notify stage") {
		t.Fatalf("error should name the notify stage, got %q", err.Error())
	}
	if scheduler.calls != 0 {
		t.Fatalf("scheduler must not run after notify failure")
	}
}

func TestPipelineAnalyzerFailureAborts(t *testing.T) {
	diagnoser := &fakeDiagnoser{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{err: errors.New("sensor feed corrupt")},
		diagnoser,
		&fakeNotifier{},
		&fakeScheduler{},
		nil)

	_, err := pipeline.Run(context.Background(), testFrame("VEH003"))
	if err == nil {
		t.Fatalf("expected analyzer failure to abort the run")
	}
	if !strings.Contains(err.Error(), "analyze stage") || !strings.Contains(err.Error(), "VEH003") {
		t.Fatalf("error should name the stage and vehicle, got %q", err.Error())
	}
	if diagnoser.calls != 0 {
		t.Fatalf("diagnoser must not run after analyze failure")
	}
}

func TestPipelineCancellationStopsBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	journal := &runJournal{}
	diagnoser := &fakeDiagnoser{journal: journal}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{journal: journal, onCall: cancel},
		diagnoser,
		&fakeNotifier{journal: journal},
		&fakeScheduler{journal: journal},
		&fakeRecorder{journal: journal})

	_, err := pipeline.Run(ctx, testFrame("VEH001"))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !strings.Contains(err.Error(), "cancelled before diagnosed stage") {
		t.Fatalf("error should name the stage that was skipped, got %q", err.Error())
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error should wrap context.Canceled")
	}
	if diagnoser.calls != 0 {
		t.Fatalf("diagnoser must not run after cancellation")
	}

	// Records made before the cancellation stay in place.
	want := []string{
		"record:master_agent/process_telematics_data",
		"record:data_analysis_agent/analyze_data",
		"call:analyze",
	}
	assertJournal(t, journal, want)
}

func TestPipelineRejectsMissingVehicleID(t *testing.T) {
	journal := &runJournal{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{journal: journal},
		&fakeDiagnoser{journal: journal},
		&fakeNotifier{journal: journal},
		&fakeScheduler{journal: journal},
		&fakeRecorder{journal: journal})

	_, err := pipeline.Run(context.Background(), models.TelemetryFrame{})
	if err == nil {
		t.Fatalf("expected validation error for missing vehicle id")
	}

	// Intake is recorded even when the frame turns out to be invalid.
	want := []string{"record:master_agent/process_telematics_data"}
	assertJournal(t, journal, want)
}

func TestPipelineCriticalWithoutAutoSchedule(t *testing.T) {
	scheduler := &fakeScheduler{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{},
		&fakeDiagnoser{result: criticalDiagnosis("VEH002", false)},
		&fakeNotifier{},
		scheduler,
		nil)

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH002"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Notification == nil {
		t.Fatalf("critical run must notify")
	}
	if scheduler.calls != 0 {
		t.Fatalf("scheduler must not run without auto_schedule")
	}
	if outcome.Diagnosis.Scheduling != nil {
		t.Fatalf("no scheduling outcome expected, got %+v", outcome.Diagnosis.Scheduling)
	}
}

func TestPipelineNonCriticalAutoScheduleIgnored(t *testing.T) {
	notifier := &fakeNotifier{}
	scheduler := &fakeScheduler{}
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{},
		&fakeDiagnoser{result: &models.DiagnosisResult{
			VehicleID:         "VEH003",
			Critical:          false,
			AlertLevel:        models.AlertWarning,
			RecommendedAction: "oil_change",
			AutoSchedule:      true,
			CreatedAt:         time.Now().UTC(),
		}},
		notifier,
		scheduler,
		nil)

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH003"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if notifier.calls != 0 || scheduler.calls != 0 {
		t.Fatalf("non-critical diagnosis must not notify or schedule: %d/%d",
			notifier.calls, scheduler.calls)
	}
	if outcome.Notification != nil || outcome.Diagnosis.Scheduling != nil {
		t.Fatalf("no notification or scheduling outcome expected, got %+v / %+v",
			outcome.Notification, outcome.Diagnosis.Scheduling)
	}
}

func TestPipelineNilSchedulerDegrades(t *testing.T) {
	pipeline := NewPipeline(nil,
		&fakeAnalyzer{},
		&fakeDiagnoser{result: criticalDiagnosis("VEH002", true)},
		&fakeNotifier{},
		nil,
		nil)

	outcome, err := pipeline.Run(context.Background(), testFrame("VEH002"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	sched := outcome.Diagnosis.Scheduling
	if sched == nil || sched.Status != models.ScheduleUnavailable {
		t.Fatalf("expected unavailable schedule with nil scheduler, got %+v", sched)
	}
}

func assertJournal(t *testing.T, journal *runJournal, want []string) {
	t.Helper()
	if len(journal.entries) != len(want) {
		t.Fatalf("journal length %d, want %d: %v", len(journal.entries), len(want), journal.entries)
	}
	for i, entry := range want {
		if journal.entries[i] != entry {
			t.Fatalf("journal[%d] = %q, want %q (full: %v)", i, journal.entries[i], entry, journal.entries)
		}
	}
}
