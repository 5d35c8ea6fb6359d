package ensemble

import (
	"fmt"
	"math"
)

// DBSCAN clusters the scaled training data by density and keeps one
// centroid per cluster. Out-of-sample points score by distance to the
// nearest centroid; DBSCAN itself has no predict step, so the centroids are
// the whole serialized model.
type DBSCAN struct {
	Eps          float64     `json:"eps"`
	MinSamples   int         `json:"min_samples"`
	DistanceNorm float64     `json:"distance_norm"`
	OutlierScore float64     `json:"outlier_score"`
	Centroids    [][]float64 `json:"centroids"`
}

// DBSCANConfig holds clustering hyperparameters.
type DBSCANConfig struct {
	Eps        float64 `yaml:"eps" json:"eps"`
	MinSamples int     `yaml:"min_samples" json:"min_samples"`
}

// NewDBSCAN creates an untrained clusterer, filling zero config fields
// with defaults.
func NewDBSCAN(cfg DBSCANConfig) *DBSCAN {
	if cfg.Eps <= 0 {
		cfg.Eps = 1.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 50
	}
	return &DBSCAN{
		Eps:          cfg.Eps,
		MinSamples:   cfg.MinSamples,
		DistanceNorm: 10.0,
		OutlierScore: 0.9,
	}
}

// Fit clusters data and stores per-cluster centroids. Noise points join no
// cluster. Finding zero clusters is not an error: every future point then
// scores as an outlier.
func (d *DBSCAN) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("dbscan fit: no data provided")
	}

	labels := d.cluster(data)

	numClusters := 0
	for _, l := range labels {
		if l >= numClusters {
			numClusters = l + 1
		}
	}

	d.Centroids = make([][]float64, numClusters)
	counts := make([]int, numClusters)
	dim := len(data[0])
	for c := 0; c < numClusters; c++ {
		d.Centroids[c] = make([]float64, dim)
	}
	for i, l := range labels {
		if l < 0 {
			continue
		}
		for j, v := range data[i] {
			d.Centroids[l][j] += v
		}
		counts[l]++
	}
	for c := range d.Centroids {
		for j := range d.Centroids[c] {
			d.Centroids[c][j] /= float64(counts[c])
		}
	}

	return nil
}

// cluster runs DBSCAN over data, returning a cluster label per row
// (-1 for noise).
func (d *DBSCAN) cluster(data [][]float64) []int {
	labels := make([]int, len(data))
	for i := range labels {
		labels[i] = -1
	}
	visited := make([]bool, len(data))

	clusterID := 0
	for i := range data {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := d.regionQuery(data, i)
		if len(neighbors) < d.MinSamples {
			continue // noise, may still be absorbed by a later cluster
		}

		labels[i] = clusterID
		for k := 0; k < len(neighbors); k++ {
			idx := neighbors[k]
			if !visited[idx] {
				visited[idx] = true
				expanded := d.regionQuery(data, idx)
				if len(expanded) >= d.MinSamples {
					neighbors = append(neighbors, expanded...)
				}
			}
			if labels[idx] == -1 {
				labels[idx] = clusterID
			}
		}
		clusterID++
	}
	return labels
}

func (d *DBSCAN) regionQuery(data [][]float64, idx int) []int {
	var neighbors []int
	for i := range data {
		if euclidean(data[idx], data[i]) <= d.Eps {
			neighbors = append(neighbors, i)
		}
	}
	return neighbors
}

// Score maps a scaled point to [0,1]. Points farther than 2*Eps from every
// centroid (or any point when no clusters exist) take the fixed outlier
// score. In-cluster points score by centroid distance over DistanceNorm,
// capped at 1; a point exactly on a centroid scores 0.
func (d *DBSCAN) Score(sample []float64) float64 {
	if len(d.Centroids) == 0 {
		return d.OutlierScore
	}

	minDist := math.Inf(1)
	for _, centroid := range d.Centroids {
		if dist := euclidean(sample, centroid); dist < minDist {
			minDist = dist
		}
	}

	// 2*Eps leniency: new points sit farther from centroids than training
	// points do from their neighbors.
	if minDist > d.Eps*2.0 {
		return d.OutlierScore
	}
	return math.Min(minDist/d.DistanceNorm, 1.0)
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
