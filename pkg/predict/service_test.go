package predict

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"logshield/pkg/ensemble"
	"logshield/pkg/features"
	"logshield/pkg/modelstore"
)

func trainedModel(t testing.TB) *ensemble.Ensemble {
	t.Helper()
	e, err := ensemble.New(ensemble.Config{
		IForest: ensemble.IForestConfig{NumTrees: 20, SampleSize: 64},
		DBSCAN:  ensemble.DBSCANConfig{Eps: 1.5, MinSamples: 10},
		GMM:     ensemble.GMMConfig{Components: 2, MaxIter: 20},
	}, features.Names())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rng := rand.New(rand.NewSource(23))
	data := make([][]float64, 150)
	for i := range data {
		row := make([]float64, features.Dim)
		for j := range row {
			row[j] = float64(j%7) + rng.NormFloat64()
		}
		data[i] = row
	}
	if err := e.Fit(data); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return e
}

func TestPredictWithoutModel(t *testing.T) {
	store, err := modelstore.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("modelstore.New: %v", err)
	}
	svc := NewService(store, zerolog.Nop())

	if svc.Ready() {
		t.Error("Ready() true before any load")
	}
	if _, err := svc.Predict(&features.Vector{}); !errors.Is(err, ErrNoModel) {
		t.Errorf("Predict err = %v, want ErrNoModel", err)
	}
}

func TestLoadLatestAndPredict(t *testing.T) {
	store, err := modelstore.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("modelstore.New: %v", err)
	}
	if _, err := store.Save(trainedModel(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	svc := NewService(store, zerolog.Nop())
	if err := svc.LoadLatest(); err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if !svc.Ready() {
		t.Fatal("Ready() false after load")
	}
	if meta := svc.Metadata(); meta == nil || meta.Dim != features.Dim {
		t.Fatalf("Metadata = %+v", meta)
	}

	pred, err := svc.Predict(&features.Vector{HourOfDay: 3, LoginAttemptsPerMinute: 40})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.RiskScore < 0 || pred.RiskScore > 1 {
		t.Errorf("score %v outside [0,1]", pred.RiskScore)
	}
}

func TestOverridesApplyOnLoad(t *testing.T) {
	store, err := modelstore.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("modelstore.New: %v", err)
	}
	if _, err := store.Save(trainedModel(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	svc := NewService(store, zerolog.Nop())
	if err := svc.SetOverrides(Overrides{Weights: ensemble.Weights{IsolationForest: 0.5, DBSCAN: 0.3, GMM: 0.3}}); err == nil {
		t.Fatal("invalid weight override accepted")
	}

	// Floor thresholds: any nonzero score classifies critical, so the
	// override visibly wins over what the artifact carries.
	floor := ensemble.Thresholds{Low: 0.0001, Medium: 0.001, High: 0.005, Critical: 0.01}
	if err := svc.SetOverrides(Overrides{Thresholds: floor}); err != nil {
		t.Fatalf("SetOverrides: %v", err)
	}
	if err := svc.LoadLatest(); err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}

	pred, err := svc.Predict(&features.Vector{HourOfDay: 3, LoginAttemptsPerMinute: 40})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.RiskLevel != ensemble.RiskCritical {
		t.Errorf("risk level = %s under floor thresholds, want %s", pred.RiskLevel, ensemble.RiskCritical)
	}
}

func TestLoadLatestKeepsModelOnFailure(t *testing.T) {
	store, err := modelstore.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("modelstore.New: %v", err)
	}
	svc := NewService(store, zerolog.Nop())
	svc.Swap(trainedModel(t))

	// Empty store: reload fails, the swapped model must survive.
	if err := svc.LoadLatest(); err == nil {
		t.Fatal("LoadLatest on empty store succeeded")
	}
	if !svc.Ready() {
		t.Error("active model dropped after failed reload")
	}
	if _, err := svc.Predict(&features.Vector{}); err != nil {
		t.Errorf("Predict after failed reload: %v", err)
	}
}

func TestConcurrentPredictDuringSwap(t *testing.T) {
	store, err := modelstore.New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("modelstore.New: %v", err)
	}
	svc := NewService(store, zerolog.Nop())
	model := trainedModel(t)
	svc.Swap(model)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec := &features.Vector{RequestsPerSecond: 15, FailedAuthRate: 0.9}
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := svc.Predict(vec); err != nil {
					t.Errorf("Predict during swap: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		svc.Swap(model)
	}
	close(stop)
	wg.Wait()
}
