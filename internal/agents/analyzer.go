package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fleetstack/fleetguard/internal/cache"
	"github.com/fleetstack/fleetguard/internal/models"
	"github.com/fleetstack/fleetguard/internal/store"
	"github.com/fleetstack/fleetguard/internal/utils"
)

// Weights for the overall health score. Brakes and engine dominate because
// their failures strand the vehicle.
const (
	batteryWeight = 0.15
	engineWeight  = 0.25
	oilWeight     = 0.20
	brakesWeight  = 0.25
	tiresWeight   = 0.15
)

// TelemetryAnalyzer converts raw sensor frames into component health scores
// and flags readings outside their safe envelopes.
type TelemetryAnalyzer struct {
	logger   *slog.Logger
	store    store.Store
	cache    cache.Provider
	cacheTTL time.Duration
}

// NewTelemetryAnalyzer constructs the analyzer. Store and cache are
// optional; without them analysis still runs, it just is not persisted.
func NewTelemetryAnalyzer(logger *slog.Logger, st store.Store, provider cache.Provider, cacheTTL time.Duration) *TelemetryAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &TelemetryAnalyzer{logger: logger, store: st, cache: provider, cacheTTL: cacheTTL}
}

// Analyze scores one frame. Persistence is best-effort: a failing store or
// cache degrades durability, not analysis.
func (a *TelemetryAnalyzer) Analyze(ctx context.Context, frame models.TelemetryFrame) (*models.AnalysisResult, error) {
	if frame.VehicleID == "" {
		return nil, fmt.Errorf("telemetry frame missing vehicle id: %w", utils.ErrInvalidInput)
	}
	if frame.RecordedAt.IsZero() {
		frame.RecordedAt = time.Now().UTC()
	}

	anomalies := detectSensorAnomalies(frame)
	scores := healthScores(frame)

	status := models.AnalysisNormal
	if len(anomalies) > 0 {
		status = models.AnalysisAnomaly
	}

	result := &models.AnalysisResult{
		VehicleID:       frame.VehicleID,
		Status:          status,
		SensorAnomalies: anomalies,
		HealthScores:    scores,
		CreatedAt:       time.Now().UTC(),
	}

	if a.store != nil {
		if err := a.store.SaveTelemetry(ctx, frame); err != nil {
			a.logger.Warn("telemetry not persisted",
				slog.String("vehicle_id", frame.VehicleID), slog.Any("error", err))
		}
		if err := a.store.SaveAnalysis(ctx, result); err != nil {
			a.logger.Warn("analysis not persisted",
				slog.String("vehicle_id", frame.VehicleID), slog.Any("error", err))
		}
	}
	a.cacheAnalysis(ctx, result)

	return result, nil
}

func (a *TelemetryAnalyzer) cacheAnalysis(ctx context.Context, result *models.AnalysisResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, "analysis:"+result.VehicleID, payload, a.cacheTTL); err != nil {
		a.logger.Debug("analysis cache refresh failed", slog.Any("error", err))
	}
}

func detectSensorAnomalies(frame models.TelemetryFrame) []models.SensorAnomaly {
	anomalies := make([]models.SensorAnomaly, 0, 2)
	if frame.EngineTemp > 110 {
		anomalies = append(anomalies, models.SensorAnomaly{
			Metric: "engine_temp", Value: frame.EngineTemp, Detail: "engine overheating",
		})
	}
	if frame.BatteryVoltage < 11.8 {
		anomalies = append(anomalies, models.SensorAnomaly{
			Metric: "battery_voltage", Value: frame.BatteryVoltage, Detail: "battery voltage low",
		})
	}
	if frame.OilPressure < 20 || frame.OilPressure > 80 {
		anomalies = append(anomalies, models.SensorAnomaly{
			Metric: "oil_pressure", Value: frame.OilPressure, Detail: "oil pressure out of range",
		})
	}
	if frame.BrakePadThickness < 3.0 {
		anomalies = append(anomalies, models.SensorAnomaly{
			Metric: "brake_pad_thickness", Value: frame.BrakePadThickness, Detail: "brake pads worn",
		})
	}
	if frame.TirePressure < 25 || frame.TirePressure > 38 {
		anomalies = append(anomalies, models.SensorAnomaly{
			Metric: "tire_pressure", Value: frame.TirePressure, Detail: "tire pressure out of range",
		})
	}
	return anomalies
}

func healthScores(frame models.TelemetryFrame) map[string]float64 {
	scores := map[string]float64{
		"battery": batteryScore(frame.BatteryVoltage),
		"engine":  engineScore(frame.EngineTemp),
		"oil":     oilScore(frame.OilPressure),
		"brakes":  brakeScore(frame.BrakePadThickness),
		"tires":   tireScore(frame.TirePressure),
	}
	scores["overall"] = scores["battery"]*batteryWeight +
		scores["engine"]*engineWeight +
		scores["oil"]*oilWeight +
		scores["brakes"]*brakesWeight +
		scores["tires"]*tiresWeight
	return scores
}

// batteryScore peaks at the healthy 12.6V resting voltage and loses 25
// points per volt of deviation either way.
func batteryScore(voltage float64) float64 {
	return clampScore(100 - 25*math.Abs(voltage-12.6))
}

// engineScore treats 85..95°C as the normal operating band. Running hot
// costs 2 points per degree, with a steeper penalty past the 110°C
// overheat line; running cold costs 1 point per degree.
func engineScore(temp float64) float64 {
	switch {
	case temp >= 85 && temp <= 95:
		return 100
	case temp > 95:
		score := 100 - 2*(temp-95)
		if temp > 110 {
			score -= 5 * (temp - 110)
		}
		return clampScore(score)
	default:
		return clampScore(100 - (85 - temp))
	}
}

func oilScore(pressure float64) float64 {
	if pressure >= 40 && pressure <= 60 {
		return 100
	}
	deviation := 40 - pressure
	if pressure > 60 {
		deviation = pressure - 60
	}
	return clampScore(100 - 2.5*deviation)
}

// brakeScore is proportional to remaining pad: 10mm is new. Pads under the
// 3mm service limit are capped at 25 regardless of the linear value.
func brakeScore(thickness float64) float64 {
	score := thickness / 10 * 100
	if thickness < 3 && score > 25 {
		score = 25
	}
	return clampScore(score)
}

func tireScore(pressure float64) float64 {
	deviation := math.Abs(pressure - 32)
	if deviation <= 2 {
		return 100
	}
	return clampScore(100 - 8*(deviation-2))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
