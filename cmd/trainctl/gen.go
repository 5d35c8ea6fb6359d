package main

import (
	"math"
	"math/rand"
)

// Synthetic training data for the ensemble. Normal traffic clusters
// around weekday business hours with low failure rates; attack traffic
// mimics brute force, DDoS and exfiltration patterns.

var (
	normalHourWeights  = buildWeights(0.01, 6, 0.075, 12, 0.01, 6)
	anomalyHourWeights = buildWeights(0.15, 6, 0.02, 12, 0.05, 6)
	normalDayWeights   = buildWeights(0.18, 5, 0.05, 2, 0, 0)
	anomalyDayWeights  = buildWeights(0.1, 5, 0.25, 2, 0, 0)
)

// buildWeights concatenates three runs of repeated weights and normalizes
// them to sum to 1.
func buildWeights(w1 float64, n1 int, w2 float64, n2 int, w3 float64, n3 int) []float64 {
	var out []float64
	for i := 0; i < n1; i++ {
		out = append(out, w1)
	}
	for i := 0; i < n2; i++ {
		out = append(out, w2)
	}
	for i := 0; i < n3; i++ {
		out = append(out, w3)
	}
	var sum float64
	for _, w := range out {
		sum += w
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func weightedChoice(rng *rand.Rand, weights []float64) int {
	r := rng.Float64()
	var cum float64
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}

func bernoulli(rng *rand.Rand, pOne float64) float64 {
	if rng.Float64() < pOne {
		return 1
	}
	return 0
}

func absNormal(rng *rand.Rand, mean, std float64) float64 {
	return math.Abs(rng.NormFloat64()*std + mean)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// gamma2 samples Gamma(shape=2, scale) as the sum of two exponentials.
func gamma2(rng *rand.Rand, scale float64) float64 {
	return -scale * math.Log(rng.Float64()*rng.Float64())
}

func normalSample(rng *rand.Rand) []float64 {
	return []float64{
		float64(weightedChoice(rng, normalHourWeights)),
		float64(weightedChoice(rng, normalDayWeights)),
		bernoulli(rng, 0.3),
		bernoulli(rng, 0.7),
		absNormal(rng, 1.0, 0.5),
		absNormal(rng, 0.5, 0.2),
		float64(1 + rng.Intn(19)),
		float64(1 + rng.Intn(9)),
		absNormal(rng, 0.05, 0.03),
		absNormal(rng, 0.02, 0.01),
		absNormal(rng, 0.01, 0.005),
		absNormal(rng, 5, 10),
		bernoulli(rng, 0.9),
		bernoulli(rng, 0.8),
		math.Log1p(gamma2(rng, 150)),
		uniform(rng, 10, 300),
		uniform(rng, 60, 1800),
		uniform(rng, 3.0, 6.0),
		bernoulli(rng, 0.05),
		bernoulli(rng, 0.1),
		bernoulli(rng, 0.9),
	}
}

func anomalousSample(rng *rand.Rand) []float64 {
	return []float64{
		float64(weightedChoice(rng, anomalyHourWeights)),
		float64(weightedChoice(rng, anomalyDayWeights)),
		bernoulli(rng, 0.7),
		bernoulli(rng, 0.2),
		uniform(rng, 10, 30),
		uniform(rng, 5, 20),
		float64(1 + rng.Intn(4)),
		float64(15 + rng.Intn(35)),
		uniform(rng, 0.7, 1.0),
		uniform(rng, 0.5, 1.0),
		uniform(rng, 0.3, 0.8),
		uniform(rng, 200, 2000),
		bernoulli(rng, 0.2),
		bernoulli(rng, 0.05),
		math.Log1p(uniform(rng, 5000, 50000)),
		uniform(rng, 1, 10),
		uniform(rng, 1, 30),
		uniform(rng, 7.0, 8.0),
		bernoulli(rng, 0.7),
		bernoulli(rng, 0.8),
		bernoulli(rng, 0.1),
	}
}

// generate builds a shuffled training set. Labels are returned for the
// validation report only; training itself is unsupervised.
func generate(rng *rand.Rand, nNormal, nAnomalous int) (data [][]float64, labels []int) {
	data = make([][]float64, 0, nNormal+nAnomalous)
	labels = make([]int, 0, nNormal+nAnomalous)
	for i := 0; i < nNormal; i++ {
		data = append(data, normalSample(rng))
		labels = append(labels, 0)
	}
	for i := 0; i < nAnomalous; i++ {
		data = append(data, anomalousSample(rng))
		labels = append(labels, 1)
	}
	rng.Shuffle(len(data), func(i, j int) {
		data[i], data[j] = data[j], data[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	return data, labels
}
