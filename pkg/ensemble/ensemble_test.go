package ensemble

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
)

const testDim = 21

// syntheticTraining builds two tight clusters of normal behavior: weekday
// business-hours logins and routine web browsing. Deterministic for the
// given seed.
func syntheticTraining(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))

	login := []float64{10, 2, 0, 1, 1.2, 0.4, 12, 4, 0.05, 0, 0, 20, 1, 1, 7.2, 45, 600, 4.1, 0, 0, 1}
	browse := []float64{14, 3, 0, 1, 0.1, 1.5, 15, 8, 0.01, 0.02, 0, 35, 1, 0, 9.8, 12, 1400, 4.6, 0, 0, 1}

	data := make([][]float64, n)
	for i := range data {
		proto := login
		if i%2 == 1 {
			proto = browse
		}
		row := make([]float64, testDim)
		for j, v := range proto {
			// Jitter proportional to how much the prototypes disagree, so
			// indicator features stay exact.
			row[j] = v + rng.NormFloat64()*0.02*math.Abs(login[j]-browse[j])
		}
		data[i] = row
	}
	return data
}

// bruteForceVector is an off-distribution point: night-time burst of failed
// root logins from an unknown, distant source with a high-entropy payload.
func bruteForceVector() []float64 {
	return []float64{3, 6, 1, 0, 60, 25, 300, 45, 0.98, 1, 0, 9500, 0, 0, 13.5, 0.5, 30, 7.9, 1, 1, 0}
}

func trainedEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	e, err := New(Config{
		IForest: IForestConfig{NumTrees: 50, SampleSize: 128},
		DBSCAN:  DBSCANConfig{Eps: 1.5, MinSamples: 20},
		GMM:     GMMConfig{Components: 2, MaxIter: 50},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Fit(syntheticTraining(400, 7)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return e
}

func TestWeightValidation(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"default", Weights{0.5, 0.3, 0.2}, false},
		{"sum too high", Weights{0.5, 0.3, 0.3}, true},
		{"sum too low", Weights{0.5, 0.3, 0.1}, true},
		{"within tolerance", Weights{0.5, 0.3, 0.2005}, false},
		{"negative weight", Weights{1.5, -0.3, -0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Weights: tt.weights}, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New with weights %+v: err = %v, wantErr %v", tt.weights, err, tt.wantErr)
			}
		})
	}

	var we *WeightError
	_, err := New(Config{Weights: Weights{0.5, 0.3, 0.3}}, nil)
	if !errors.As(err, &we) {
		t.Fatalf("expected WeightError, got %v", err)
	}
	if math.Abs(we.Sum-1.1) > 1e-12 {
		t.Errorf("WeightError.Sum = %v, want 1.1", we.Sum)
	}
}

func TestThresholdValidation(t *testing.T) {
	bad := []Thresholds{
		{Low: 0.6, Medium: 0.4, High: 0.8, Critical: 0.9},
		{Low: 0.4, Medium: 0.4, High: 0.8, Critical: 0.9},
		{Low: 0.4, Medium: 0.6, High: 0.8, Critical: 1.1},
	}
	for _, th := range bad {
		if _, err := New(Config{Thresholds: th}, nil); err == nil {
			t.Errorf("thresholds %+v accepted, want error", th)
		}
	}
}

func TestPredictPreconditions(t *testing.T) {
	e, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := e.Predict(make([]float64, testDim)); !errors.Is(err, ErrNotTrained) {
		t.Errorf("untrained Predict err = %v, want ErrNotTrained", err)
	}

	if err := e.Fit(syntheticTraining(100, 1)); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	_, err = e.Predict(make([]float64, testDim-1))
	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("wrong-width Predict err = %v, want DimensionError", err)
	}
	if de.Got != testDim-1 || de.Want != testDim {
		t.Errorf("DimensionError = %+v", de)
	}
}

func TestScalerZeroVariance(t *testing.T) {
	s := NewStandardScaler()
	data := [][]float64{{1, 5}, {2, 5}, {3, 5}}
	if err := s.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if s.Std[1] != 1.0 {
		t.Errorf("zero-variance std = %v, want 1.0", s.Std[1])
	}
	scaled, err := s.TransformOne([]float64{2, 5})
	if err != nil {
		t.Fatalf("TransformOne: %v", err)
	}
	if scaled[0] != 0 || scaled[1] != 0 {
		t.Errorf("scaled = %v, want [0 0]", scaled)
	}
}

func TestDBSCANScoring(t *testing.T) {
	d := NewDBSCAN(DBSCANConfig{Eps: 1.5, MinSamples: 5})
	d.Centroids = [][]float64{{0, 0}, {10, 0}}

	tests := []struct {
		name  string
		point []float64
		want  float64
	}{
		{"exactly on centroid", []float64{0, 0}, 0},
		{"inside leniency", []float64{2, 0}, 0.2},       // dist 2 <= 3, score 2/10
		{"at leniency boundary", []float64{3, 0}, 0.3},  // dist 3 == 2*eps
		{"beyond leniency", []float64{5.5, 0}, 0.9},     // dist 4.5 from nearest
		{"near second centroid", []float64{10.5, 0}, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Score(tt.point); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Score(%v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestDBSCANNoClusters(t *testing.T) {
	d := NewDBSCAN(DBSCANConfig{Eps: 0.1, MinSamples: 10})
	// Five scattered points can never satisfy minSamples.
	data := [][]float64{{0, 0}, {5, 5}, {10, 0}, {0, 10}, {7, 3}}
	if err := d.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(d.Centroids) != 0 {
		t.Fatalf("got %d centroids, want 0", len(d.Centroids))
	}
	if got := d.Score([]float64{0, 0}); got != 0.9 {
		t.Errorf("clusterless Score = %v, want 0.9", got)
	}
}

func TestDBSCANFindsCluster(t *testing.T) {
	d := NewDBSCAN(DBSCANConfig{Eps: 1.0, MinSamples: 4})
	var data [][]float64
	for i := 0; i < 20; i++ {
		data = append(data, []float64{float64(i%5) * 0.1, float64(i/5) * 0.1})
	}
	if err := d.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if len(d.Centroids) != 1 {
		t.Fatalf("got %d centroids, want 1", len(d.Centroids))
	}
	if got := d.Score(d.Centroids[0]); got != 0 {
		t.Errorf("Score at centroid = %v, want 0", got)
	}
}

func TestGMMLikelihoodOrdering(t *testing.T) {
	g := NewGaussianMixture(GMMConfig{Components: 1, MaxIter: 30})
	rng := rand.New(rand.NewSource(11))

	data := make([][]float64, 300)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
	}
	if err := g.Fit(data, rng); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	center := g.LogLikelihood([]float64{0, 0, 0})
	tail := g.LogLikelihood([]float64{8, -8, 8})
	if center <= tail {
		t.Errorf("log-likelihood at center %v not above tail %v", center, tail)
	}
}

func TestIsolationForestSeparates(t *testing.T) {
	f := NewIsolationForest(IForestConfig{NumTrees: 50, SampleSize: 64})
	rng := rand.New(rand.NewSource(5))

	data := make([][]float64, 300)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	if err := f.Fit(data, rng); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	inlier := f.Decision([]float64{0.1, -0.2})
	outlier := f.Decision([]float64{12, -12})
	if outlier >= inlier {
		t.Errorf("outlier decision %v not below inlier %v", outlier, inlier)
	}
	// The decision is centered on the training scores: a point far outside
	// the training range must land decisively negative, a point in the
	// bulk stays positive.
	if outlier > -0.2 {
		t.Errorf("far outlier decision = %v, want well below zero", outlier)
	}
	if inlier <= 0 {
		t.Errorf("bulk inlier decision = %v, want positive", inlier)
	}
}

func TestPredictScenarios(t *testing.T) {
	e := trainedEnsemble(t)

	t.Run("benign activity scores below anomaly threshold", func(t *testing.T) {
		benign := syntheticTraining(2, 99)[0]
		pred, err := e.Predict(benign)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if pred.IsAnomaly {
			t.Errorf("benign vector flagged anomalous: score %v", pred.RiskScore)
		}
		if pred.Action == ActionBlockIP || pred.Action == ActionRequireMFA {
			t.Errorf("benign vector got action %s", pred.Action)
		}
	})

	t.Run("brute force scores high with blocking action", func(t *testing.T) {
		pred, err := e.Predict(bruteForceVector())
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if !pred.IsAnomaly {
			t.Fatalf("attack vector not flagged: score %v", pred.RiskScore)
		}
		if pred.RiskLevel != RiskHigh && pred.RiskLevel != RiskCritical {
			t.Errorf("risk level = %s (score %v), want high or critical", pred.RiskLevel, pred.RiskScore)
		}
		if pred.Action != ActionBlockIP {
			t.Errorf("action = %s, want %s", pred.Action, ActionBlockIP)
		}
	})

	t.Run("score ordering and bounds", func(t *testing.T) {
		benign, _ := e.Predict(syntheticTraining(2, 99)[0])
		attack, _ := e.Predict(bruteForceVector())
		if attack.RiskScore <= benign.RiskScore {
			t.Errorf("attack score %v not above benign %v", attack.RiskScore, benign.RiskScore)
		}
		for _, p := range []*Prediction{benign, attack} {
			if p.RiskScore < 0 || p.RiskScore > 1 {
				t.Errorf("score %v outside [0,1]", p.RiskScore)
			}
			for name, s := range p.ModelScores {
				if s < 0 || s > 1 {
					t.Errorf("%s score %v outside [0,1]", name, s)
				}
			}
		}
	})

	t.Run("top features", func(t *testing.T) {
		pred, _ := e.Predict(bruteForceVector())
		if len(pred.ImportantFeatures) != 5 {
			t.Fatalf("got %d important features, want 5", len(pred.ImportantFeatures))
		}
		for i := 1; i < len(pred.ImportantFeatures); i++ {
			if pred.ImportantFeatures[i].Score > pred.ImportantFeatures[i-1].Score {
				t.Errorf("important features not sorted descending")
			}
		}
	})
}

func TestAgreementConfidence(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"tight agreement", []float64{0.82, 0.85, 0.80}, "high"},
		{"moderate spread", []float64{0.5, 0.7, 0.3}, "medium"},
		{"disagreement", []float64{0.95, 0.05, 0.5}, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Agreement(tt.scores...); got != tt.want {
				t.Errorf("Agreement(%v) = %s, want %s", tt.scores, got, tt.want)
			}
		})
	}
}

func TestFitDeterministic(t *testing.T) {
	data := syntheticTraining(200, 3)

	build := func() *Ensemble {
		e, err := New(Config{
			IForest: IForestConfig{NumTrees: 20, SampleSize: 64},
			DBSCAN:  DBSCANConfig{Eps: 1.5, MinSamples: 10},
			GMM:     GMMConfig{Components: 2, MaxIter: 30},
		}, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := e.Fit(data); err != nil {
			t.Fatalf("Fit: %v", err)
		}
		return e
	}

	a, b := build(), build()
	attack := bruteForceVector()
	pa, _ := a.Predict(attack)
	pb, _ := b.Predict(attack)
	if pa.RiskScore != pb.RiskScore {
		t.Errorf("same seed, different scores: %v vs %v", pa.RiskScore, pb.RiskScore)
	}
}

func TestConcurrentPredict(t *testing.T) {
	e := trainedEnsemble(t)
	attack := bruteForceVector()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := e.Predict(attack); err != nil {
					t.Errorf("concurrent Predict: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkPredict(b *testing.B) {
	e, err := New(Config{
		IForest: IForestConfig{NumTrees: 100, SampleSize: 256},
		DBSCAN:  DBSCANConfig{Eps: 1.5, MinSamples: 20},
		GMM:     GMMConfig{Components: 3, MaxIter: 50},
	}, nil)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	if err := e.Fit(syntheticTraining(1000, 7)); err != nil {
		b.Fatalf("Fit: %v", err)
	}
	attack := bruteForceVector()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Predict(attack); err != nil {
			b.Fatal(err)
		}
	}
}
