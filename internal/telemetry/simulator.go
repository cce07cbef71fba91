package telemetry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// FrameSink consumes generated frames. The service layer satisfies it.
type FrameSink interface {
	ProcessTelemetry(ctx context.Context, frame models.TelemetryFrame) (*models.PipelineOutcome, error)
}

// vehicleState is the drifting sensor state for one simulated vehicle.
type vehicleState struct {
	id         string
	battery    float64
	engineTemp float64
	oil        float64
	brakes     float64
	tires      float64
	mileage    float64
}

// Simulator generates a small fleet's telemetry for local development. One
// vehicle starts degraded so critical paths fire without manual setup.
type Simulator struct {
	logger   *slog.Logger
	sink     FrameSink
	interval time.Duration
	rng      *rand.Rand
	fleet    []vehicleState
}

// NewSimulator builds the default three-vehicle fleet.
func NewSimulator(logger *slog.Logger, sink FrameSink, interval time.Duration) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Simulator{
		logger:   logger,
		sink:     sink,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		fleet: []vehicleState{
			{id: "VEH001", battery: 12.6, engineTemp: 90, oil: 48, brakes: 9.5, tires: 32, mileage: 45000},
			{id: "VEH002", battery: 11.5, engineTemp: 96, oil: 42, brakes: 2.5, tires: 31, mileage: 120000},
			{id: "VEH003", battery: 12.4, engineTemp: 88, oil: 52, brakes: 7.8, tires: 33, mileage: 68000},
		},
	}
}

// Start runs the generator until ctx is cancelled. Sink errors are logged
// and skipped; the simulator never stops the host process.
func (s *Simulator) Start(ctx context.Context) {
	s.logger.Info("telemetry simulator started",
		slog.Duration("interval", s.interval),
		slog.Int("fleet_size", len(s.fleet)))

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.emit(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("telemetry simulator stopped")
				return
			case <-ticker.C:
				s.emit(ctx)
			}
		}
	}()
}

func (s *Simulator) emit(ctx context.Context) {
	for i := range s.fleet {
		s.advance(&s.fleet[i])
		frame := s.frame(&s.fleet[i])
		if _, err := s.sink.ProcessTelemetry(ctx, frame); err != nil {
			s.logger.Warn("simulated frame rejected",
				slog.String("vehicle_id", frame.VehicleID), slog.Any("error", err))
		}
	}
}

func (s *Simulator) frame(v *vehicleState) models.TelemetryFrame {
	speed := s.rng.Float64() * 80
	v.mileage += speed * s.interval.Hours()
	return models.TelemetryFrame{
		VehicleID:         v.id,
		RecordedAt:        time.Now().UTC(),
		BatteryVoltage:    v.battery,
		EngineTemp:        v.engineTemp,
		OilPressure:       v.oil,
		BrakePadThickness: v.brakes,
		TirePressure:      v.tires,
		Mileage:           v.mileage,
		RPM:               1000 + s.rng.Float64()*2000,
		Speed:             speed,
	}
}

// advance drifts each sensor a small step inside its physical bounds.
// Brake pads only ever wear down.
func (s *Simulator) advance(v *vehicleState) {
	v.battery = clampRange(v.battery+s.symmetric(0.05), 11, 13)
	v.engineTemp = clampRange(v.engineTemp+s.symmetric(2), 80, 115)
	v.oil = clampRange(v.oil+s.symmetric(1), 35, 65)
	if s.rng.Float64() < 0.1 {
		v.brakes = clampRange(v.brakes-s.rng.Float64()*0.01, 0, 12)
	}
	v.tires = clampRange(v.tires+s.symmetric(0.5), 28, 36)
}

func (s *Simulator) symmetric(amplitude float64) float64 {
	return (s.rng.Float64()*2 - 1) * amplitude
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
