package ueba

import (
	"errors"
	"io/fs"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// trainingSamples is how many synthetic rows seed a fresh model.
const trainingSamples = 500

// featureWindow is the trailing window used for the call-volume feature.
// It is deliberately wider than the policy rate window.
const featureWindow = time.Hour

// Verdict is the scorer's read on one event.
type Verdict int

const (
	// VerdictNone means the scorer declined to judge (insufficient history
	// or no usable model).
	VerdictNone Verdict = iota
	// VerdictInlier means the event's features look like normal behaviour.
	VerdictInlier
	// VerdictOutlier means the event's features are statistically isolated.
	VerdictOutlier
)

func (v Verdict) String() string {
	switch v {
	case VerdictInlier:
		return "inlier"
	case VerdictOutlier:
		return "outlier"
	default:
		return "none"
	}
}

// ScorerConfig configures the outlier scorer.
type ScorerConfig struct {
	ModelPath  string
	Threshold  float64
	Trees      int
	SampleSize int
	MinHistory int
	// Seed fixes the training RNG; 0 uses a time-based seed.
	Seed int64
}

// OutlierScorer judges recorded events against an isolation forest over
// behaviour features. The model is initialised lazily on first use: loaded
// from disk when a usable file exists, trained from synthetic baseline data
// otherwise. Initialisation happens exactly once; failures degrade the
// scorer to VerdictNone rather than erroring.
type OutlierScorer struct {
	logger   *slog.Logger
	cfg      ScorerConfig
	registry *Registry
	ledger   *Ledger

	initOnce sync.Once
	model    *forest
}

// NewOutlierScorer constructs a scorer over the given ledger and registry.
func NewOutlierScorer(logger *slog.Logger, cfg ScorerConfig, registry *Registry, ledger *Ledger) *OutlierScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = 0.65
	}
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 5
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = "models/behavior_model.json"
	}
	return &OutlierScorer{logger: logger, cfg: cfg, registry: registry, ledger: ledger}
}

// Threshold returns the configured outlier threshold.
func (s *OutlierScorer) Threshold() float64 {
	return s.cfg.Threshold
}

// Score evaluates one recorded event. Entities with fewer than MinHistory
// retained events get no verdict, as does any event when the model is
// unavailable.
func (s *OutlierScorer) Score(event models.ActivityEvent) (Verdict, float64) {
	if s.ledger.CountFor(event.Entity) < s.cfg.MinHistory {
		return VerdictNone, 0
	}

	model := s.ensureModel()
	if model == nil {
		return VerdictNone, 0
	}

	score := model.Score(s.features(event))
	if score >= s.cfg.Threshold {
		return VerdictOutlier, score
	}
	return VerdictInlier, score
}

// features builds the model input for one event:
// [entity code, calls in the trailing hour, hour of day, day of week,
// success rate]. The success rate is a constant until an interpreted
// outcome channel exists; event metadata stays opaque here.
func (s *OutlierScorer) features(event models.ActivityEvent) []float64 {
	return []float64{
		s.registry.Code(event.Entity),
		float64(s.ledger.CountInWindow(event.Entity, featureWindow, event.OccurredAt)),
		float64(event.OccurredAt.Hour()),
		float64(event.OccurredAt.Weekday()),
		1.0,
	}
}

func (s *OutlierScorer) ensureModel() *forest {
	s.initOnce.Do(func() {
		model, err := loadForest(s.cfg.ModelPath)
		if err == nil {
			s.model = model
			s.logger.Info("behaviour model loaded",
				slog.String("path", s.cfg.ModelPath),
				slog.Int("trees", len(model.Trees)))
			return
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("behaviour model unusable, retraining",
				slog.String("path", s.cfg.ModelPath),
				slog.Any("error", err))
		}
		s.train()
	})
	return s.model
}

func (s *OutlierScorer) train() {
	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	model := newForest(s.cfg.Trees, s.cfg.SampleSize)
	if err := model.Train(rng, syntheticTrainingSet(rng, trainingSamples)); err != nil {
		s.logger.Error("behaviour model training failed, scoring disabled", slog.Any("error", err))
		return
	}
	s.model = model
	s.logger.Info("behaviour model trained",
		slog.Int("trees", len(model.Trees)),
		slog.Int("samples", trainingSamples))

	if err := model.SaveJSON(s.cfg.ModelPath); err != nil {
		s.logger.Warn("behaviour model not persisted",
			slog.String("path", s.cfg.ModelPath),
			slog.Any("error", err))
	}
}

// syntheticTrainingSet draws uniform baseline rows across the documented
// feature ranges.
func syntheticTrainingSet(rng *rand.Rand, n int) [][]float64 {
	data := make([][]float64, n)
	for i := range data {
		data[i] = []float64{
			rng.Float64() * 6,    // entity code
			1 + rng.Float64()*49, // calls in trailing hour
			rng.Float64() * 24,   // hour of day
			rng.Float64() * 7,    // day of week
			rng.Float64(),        // success rate
		}
	}
	return data
}
