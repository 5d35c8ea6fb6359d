package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logshield/pkg/ensemble"
	"logshield/pkg/features"
)

func TestGenerateShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data, labels := generate(rng, 200, 50)

	require.Len(t, data, 250)
	require.Len(t, labels, 250)

	var anomalies int
	for i, row := range data {
		require.Len(t, row, features.Dim)
		assert.GreaterOrEqual(t, row[0], 0.0)
		assert.Less(t, row[0], 24.0)
		assert.GreaterOrEqual(t, row[1], 0.0)
		assert.Less(t, row[1], 7.0)
		if labels[i] == 1 {
			anomalies++
		}
	}
	assert.Equal(t, 50, anomalies)
}

func TestGenerateDeterministic(t *testing.T) {
	a, _ := generate(rand.New(rand.NewSource(42)), 50, 10)
	b, _ := generate(rand.New(rand.NewSource(42)), 50, 10)
	assert.Equal(t, a, b)
}

func TestWeightsNormalized(t *testing.T) {
	for _, w := range [][]float64{normalHourWeights, anomalyHourWeights, normalDayWeights, anomalyDayWeights} {
		var sum float64
		for _, v := range w {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
	assert.Len(t, normalHourWeights, 24)
	assert.Len(t, normalDayWeights, 7)
}

func TestTrainedModelSeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data, labels := generate(rng, 900, 100)

	cfg := ensemble.Config{Seed: 42}
	cfg.IForest.NumTrees = 50
	cfg.DBSCAN.Eps = 5.0
	cfg.DBSCAN.MinSamples = 30
	cfg.GMM.Components = 2
	cfg.GMM.MaxIter = 50

	model, err := ensemble.New(cfg, features.Names())
	require.NoError(t, err)
	require.NoError(t, model.Fit(data))

	var normalSum, anomalySum float64
	var normalN, anomalyN int
	for i, row := range data {
		pred, err := model.Predict(row)
		require.NoError(t, err)
		if labels[i] == 0 {
			normalSum += pred.RiskScore
			normalN++
		} else {
			anomalySum += pred.RiskScore
			anomalyN++
		}
	}

	meanNormal := normalSum / float64(normalN)
	meanAnomaly := anomalySum / float64(anomalyN)
	assert.Greater(t, meanAnomaly, meanNormal, "anomalous traffic must score higher on average")
	assert.False(t, math.IsNaN(meanNormal))
	assert.False(t, math.IsNaN(meanAnomaly))
}
