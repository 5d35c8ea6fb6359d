// Package predict owns the active scoring model: one process-wide handle
// that serves lock-free predictions and swaps in reloaded models
// atomically.
package predict

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"logshield/pkg/ensemble"
	"logshield/pkg/features"
	"logshield/pkg/modelstore"
)

var (
	predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logshield_predictions_total",
		Help: "Predictions served, by risk level",
	}, []string{"risk_level"})

	predictionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "logshield_prediction_latency_seconds",
		Help:    "End-to-end prediction latency",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	modelLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logshield_model_loads_total",
		Help: "Model artifact load attempts",
	}, []string{"status"})
)

func init() {
	_ = prometheus.Register(predictionsTotal)
	_ = prometheus.Register(predictionLatency)
	_ = prometheus.Register(modelLoads)
}

// ErrNoModel is returned when Predict runs before any model was loaded.
var ErrNoModel = errors.New("no model loaded")

// Service serves predictions from the active model. Predict reads the model
// through an atomic pointer, so a concurrent Reload is one pointer swap:
// in-flight predictions finish on the old model, new ones see the new one.
type Service struct {
	store   *modelstore.Store
	current atomic.Pointer[ensemble.Ensemble]
	meta    atomic.Pointer[modelstore.Metadata]
	log     zerolog.Logger

	mu        sync.Mutex // serializes loads, not predictions
	overrides Overrides
}

// Overrides replaces artifact-carried scoring parameters when a model is
// activated from the store: deployment configuration wins over whatever
// blend the artifact was trained with. Zero-value members keep the
// artifact's values.
type Overrides struct {
	Weights    ensemble.Weights
	Thresholds ensemble.Thresholds
}

// NewService creates a Service with no model loaded.
func NewService(store *modelstore.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "predict").Logger()}
}

// SetOverrides installs weights and thresholds applied to every subsequent
// load. Invalid values are rejected and the running model is untouched.
func (s *Service) SetOverrides(o Overrides) error {
	if o.Weights != (ensemble.Weights{}) {
		if err := o.Weights.Validate(); err != nil {
			return err
		}
	}
	if o.Thresholds != (ensemble.Thresholds{}) {
		if err := o.Thresholds.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.overrides = o
	s.mu.Unlock()
	return nil
}

// Load reads and activates one specific artifact.
func (s *Service) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, meta, err := s.store.Load(path, features.Names())
	if err != nil {
		modelLoads.WithLabelValues("error").Inc()
		return err
	}
	s.activate(model, meta)
	return nil
}

// LoadLatest activates the newest artifact in the store. The running model
// stays active when loading fails.
func (s *Service) LoadLatest() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	model, meta, err := s.store.LoadLatest(features.Names())
	if err != nil {
		modelLoads.WithLabelValues("error").Inc()
		return err
	}
	s.activate(model, meta)
	return nil
}

// activate publishes a freshly loaded model. Callers hold s.mu; the model
// is not yet visible to Predict, so applying overrides here is race-free.
func (s *Service) activate(model *ensemble.Ensemble, meta *modelstore.Metadata) {
	if s.overrides.Weights != (ensemble.Weights{}) {
		model.Weights = s.overrides.Weights
	}
	if s.overrides.Thresholds != (ensemble.Thresholds{}) {
		model.Thresholds = s.overrides.Thresholds
	}
	s.current.Store(model)
	s.meta.Store(meta)
	modelLoads.WithLabelValues("ok").Inc()
	s.log.Info().Str("version", model.Version).Time("trained_at", model.TrainedAt).
		Int("samples", model.Samples).Msg("model activated")
}

// Swap activates an already-trained in-memory model, for freshly trained
// ensembles that were not persisted yet.
func (s *Service) Swap(model *ensemble.Ensemble) {
	s.current.Store(model)
	s.meta.Store(&modelstore.Metadata{
		Version:   model.Version,
		TrainedAt: model.TrainedAt,
		Samples:   model.Samples,
		Dim:       model.Dim,
	})
}

// Ready reports whether a model is active.
func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

// Metadata returns the active model's metadata, or nil before any load.
func (s *Service) Metadata() *modelstore.Metadata {
	return s.meta.Load()
}

// Predict scores one feature vector with the active model.
func (s *Service) Predict(vec *features.Vector) (*ensemble.Prediction, error) {
	model := s.current.Load()
	if model == nil {
		return nil, ErrNoModel
	}

	start := time.Now()
	pred, err := model.Predict(vec.Slice())
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	predictionLatency.Observe(time.Since(start).Seconds())
	predictionsTotal.WithLabelValues(pred.RiskLevel).Inc()
	return pred, nil
}
