// Package ensemble implements the three-model anomaly scoring core: an
// isolation forest on raw features plus density clustering and a Gaussian
// mixture on scaled features, blended by fixed weights into one calibrated
// risk score.
package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Risk levels, ordered by severity.
const (
	RiskNormal   = "normal"
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Recommended actions.
const (
	ActionNone       = "NO_ACTION"
	ActionMonitor    = "MONITOR"
	ActionRequireMFA = "REQUIRE_MFA"
	ActionAlertAdmin = "ALERT_ADMIN"
	ActionBlockIP    = "BLOCK_IP"
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 1e-3

// Weights blends the three sub-model scores. Must sum to 1.0.
type Weights struct {
	IsolationForest float64 `yaml:"isolation_forest" json:"isolation_forest"`
	DBSCAN          float64 `yaml:"dbscan" json:"dbscan"`
	GMM             float64 `yaml:"gmm" json:"gmm"`
}

// DefaultWeights favors the isolation forest, the most robust of the three.
func DefaultWeights() Weights {
	return Weights{IsolationForest: 0.5, DBSCAN: 0.3, GMM: 0.2}
}

// Validate checks the convex-combination invariant.
func (w Weights) Validate() error {
	sum := w.IsolationForest + w.DBSCAN + w.GMM
	if math.Abs(sum-1.0) > weightTolerance {
		return &WeightError{Sum: sum}
	}
	if w.IsolationForest < 0 || w.DBSCAN < 0 || w.GMM < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	return nil
}

// Thresholds maps the blended score to risk levels. Must be ascending.
type Thresholds struct {
	Low      float64 `yaml:"low" json:"low"`
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// DefaultThresholds returns the stock alerting thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.4, Medium: 0.6, High: 0.8, Critical: 0.9}
}

// Validate checks ordering and range.
func (t Thresholds) Validate() error {
	if !(0 < t.Low && t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return fmt.Errorf("thresholds must be ascending within (0,1]: low=%g medium=%g high=%g critical=%g",
			t.Low, t.Medium, t.High, t.Critical)
	}
	return nil
}

// Config assembles the ensemble hyperparameters.
type Config struct {
	Weights     Weights       `yaml:"weights" json:"weights"`
	Thresholds  Thresholds    `yaml:"thresholds" json:"thresholds"`
	IForest     IForestConfig `yaml:"isolation_forest" json:"isolation_forest"`
	DBSCAN      DBSCANConfig  `yaml:"dbscan" json:"dbscan"`
	GMM         GMMConfig     `yaml:"gmm" json:"gmm"`
	Seed        int64         `yaml:"seed" json:"seed"`
	TopFeatures int           `yaml:"top_features" json:"top_features"`
}

// Prediction is the scored verdict for one feature vector.
type Prediction struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	RiskScore  float64 `json:"risk_score"`
	RiskLevel  string  `json:"risk_level"`
	Confidence string  `json:"confidence"` // low, medium, high
	Action     string  `json:"recommended_action"`

	ModelScores map[string]float64 `json:"model_scores"`

	ImportantFeatures []FeatureImportance `json:"important_features"`

	ProcessingTimeMs float64 `json:"processing_time_ms"`
	ModelVersion     string  `json:"model_version"`
}

// FeatureImportance names a feature and how far it deviates within its
// vector.
type FeatureImportance struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Ensemble is the trained three-model detector. Safe for concurrent
// Predict; Fit takes the write lock.
type Ensemble struct {
	Version   string    `json:"model_version"`
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"n_training_samples"`
	Dim       int       `json:"n_features"`

	Weights    Weights    `json:"weights"`
	Thresholds Thresholds `json:"thresholds"`
	Seed       int64      `json:"seed"`

	Scaler  *StandardScaler  `json:"scaler"`
	Forest  *IsolationForest `json:"isolation_forest"`
	Cluster *DBSCAN          `json:"dbscan"`
	Mixture *GaussianMixture `json:"gmm"`

	featureNames []string
	topFeatures  int
	trained      bool
	mu           sync.RWMutex
}

// New creates an untrained Ensemble. Weights and thresholds are validated
// here: a bad blend never reaches scoring.
func New(cfg Config, featureNames []string) (*Ensemble, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.TopFeatures <= 0 {
		cfg.TopFeatures = 5
	}

	return &Ensemble{
		Version:      "v1.0.0",
		Weights:      cfg.Weights,
		Thresholds:   cfg.Thresholds,
		Seed:         cfg.Seed,
		Scaler:       NewStandardScaler(),
		Forest:       NewIsolationForest(cfg.IForest),
		Cluster:      NewDBSCAN(cfg.DBSCAN),
		Mixture:      NewGaussianMixture(cfg.GMM),
		featureNames: featureNames,
		topFeatures:  cfg.TopFeatures,
	}, nil
}

// Fit trains all three sub-models on data of shape (n, dim). The forest
// sees raw features; the clusterer and mixture see scaled ones. Training is
// deterministic for a given seed and data.
func (e *Ensemble) Fit(data [][]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return fmt.Errorf("ensemble fit: no training data")
	}
	dim := len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return fmt.Errorf("ensemble fit: row %d has %d features, row 0 has %d", i, len(row), dim)
		}
	}

	if err := e.Scaler.Fit(data); err != nil {
		return fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := e.Scaler.Transform(data)
	if err != nil {
		return fmt.Errorf("scale training data: %w", err)
	}

	rng := rand.New(rand.NewSource(e.Seed))
	if err := e.Forest.Fit(data, rng); err != nil {
		return fmt.Errorf("fit isolation forest: %w", err)
	}
	if err := e.Cluster.Fit(scaled); err != nil {
		return fmt.Errorf("fit dbscan: %w", err)
	}
	if err := e.Mixture.Fit(scaled, rng); err != nil {
		return fmt.Errorf("fit gmm: %w", err)
	}

	e.Dim = dim
	e.Samples = len(data)
	e.TrainedAt = time.Now().UTC()
	e.trained = true
	return nil
}

// Predict scores one feature vector. Returns ErrNotTrained before Fit or a
// load, and a DimensionError for vectors of the wrong width; neither runs
// any sub-model.
func (e *Ensemble) Predict(sample []float64) (*Prediction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.trained {
		return nil, ErrNotTrained
	}
	if len(sample) != e.Dim {
		return nil, &DimensionError{Got: len(sample), Want: e.Dim}
	}

	start := time.Now()

	scaled, err := e.Scaler.TransformOne(sample)
	if err != nil {
		return nil, fmt.Errorf("scale sample: %w", err)
	}

	// Sub-model scores, each calibrated to [0,1] with 1 most anomalous.
	ifScore := sigmoid(-e.Forest.Decision(sample) * 10)
	dbscanScore := e.Cluster.Score(scaled)
	gmmScore := sigmoid(-(e.Mixture.LogLikelihood(scaled) + 10) * 0.5)

	score := e.Weights.IsolationForest*ifScore +
		e.Weights.DBSCAN*dbscanScore +
		e.Weights.GMM*gmmScore
	score = math.Max(0, math.Min(1, score))

	level, action := e.classify(score)

	return &Prediction{
		IsAnomaly:  score >= e.Thresholds.Medium,
		RiskScore:  score,
		RiskLevel:  level,
		Confidence: Agreement(ifScore, dbscanScore, gmmScore),
		Action:     action,
		ModelScores: map[string]float64{
			"isolation_forest": ifScore,
			"dbscan":           dbscanScore,
			"gmm":              gmmScore,
		},
		ImportantFeatures: e.importantFeatures(sample),
		ProcessingTimeMs:  float64(time.Since(start).Microseconds()) / 1000.0,
		ModelVersion:      e.Version,
	}, nil
}

func (e *Ensemble) classify(score float64) (level, action string) {
	t := e.Thresholds
	switch {
	case score >= t.Critical:
		return RiskCritical, ActionBlockIP
	case score >= t.High:
		return RiskHigh, ActionBlockIP
	case score >= t.Medium:
		return RiskMedium, ActionRequireMFA
	case score >= t.Low:
		return RiskLow, ActionMonitor
	default:
		return RiskNormal, ActionNone
	}
}

// Agreement maps the spread of the sub-model scores to a confidence label:
// tight agreement is high confidence, wide disagreement low.
func Agreement(scores ...float64) string {
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		diff := s - mean
		variance += diff * diff
	}
	stdev := math.Sqrt(variance / float64(len(scores)))

	switch {
	case stdev < 0.1:
		return "high"
	case stdev < 0.2:
		return "medium"
	default:
		return "low"
	}
}

// importantFeatures ranks features by absolute deviation within the vector
// itself, normalized by the vector's own spread.
func (e *Ensemble) importantFeatures(sample []float64) []FeatureImportance {
	mean := 0.0
	for _, v := range sample {
		mean += v
	}
	mean /= float64(len(sample))

	variance := 0.0
	for _, v := range sample {
		diff := v - mean
		variance += diff * diff
	}
	stdev := math.Sqrt(variance/float64(len(sample))) + 1e-10

	ranked := make([]FeatureImportance, len(sample))
	for i, v := range sample {
		name := fmt.Sprintf("feature_%d", i)
		if i < len(e.featureNames) {
			name = e.featureNames[i]
		}
		ranked[i] = FeatureImportance{Name: name, Score: math.Abs(v-mean) / stdev}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	k := e.topFeatures
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}

// MarkTrained restores the trained flag and runtime fields after the
// exported state was deserialized from an artifact.
func (e *Ensemble) MarkTrained(featureNames []string, topFeatures int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.featureNames = featureNames
	if topFeatures <= 0 {
		topFeatures = 5
	}
	e.topFeatures = topFeatures
	e.trained = true
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
