package ensemble

import (
	"fmt"
	"math"
	"math/rand"
)

// IsolationForest isolates anomalies with random recursive partitions:
// outliers separate in fewer splits, so short average path lengths mean
// anomalous points. It runs on raw (unscaled) features and its trees
// serialize with the model artifact.
type IsolationForest struct {
	NumTrees   int         `json:"num_trees"`
	SampleSize int         `json:"sample_size"`
	MaxDepth   int         `json:"max_depth"`
	Trees      []*treeNode `json:"trees"`

	// Offset and ScoreStd hold the mean and spread of the raw anomaly
	// scores over the training set; Decision centers on them.
	Offset   float64 `json:"offset"`
	ScoreStd float64 `json:"score_std"`
}

// treeNode is one node of an isolation tree. Leaves have nil children and
// carry the size of the partition they terminated with.
type treeNode struct {
	SplitFeature int       `json:"f,omitempty"`
	SplitValue   float64   `json:"v,omitempty"`
	Size         int       `json:"n"`
	Left         *treeNode `json:"l,omitempty"`
	Right        *treeNode `json:"r,omitempty"`
}

// IForestConfig holds isolation forest hyperparameters.
type IForestConfig struct {
	NumTrees   int `yaml:"num_trees" json:"num_trees"`
	SampleSize int `yaml:"sample_size" json:"sample_size"`
}

// NewIsolationForest creates an untrained forest, filling zero config
// fields with defaults.
func NewIsolationForest(cfg IForestConfig) *IsolationForest {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	return &IsolationForest{
		NumTrees:   cfg.NumTrees,
		SampleSize: cfg.SampleSize,
		MaxDepth:   int(math.Ceil(math.Log2(float64(cfg.SampleSize)))),
	}
}

// Fit builds the forest from data. The caller's rng makes training
// reproducible for a given seed.
func (f *IsolationForest) Fit(data [][]float64, rng *rand.Rand) error {
	if len(data) == 0 {
		return fmt.Errorf("isolation forest fit: no data provided")
	}

	f.Trees = make([]*treeNode, f.NumTrees)
	for i := 0; i < f.NumTrees; i++ {
		sample := sampleRows(data, f.SampleSize, rng)
		f.Trees[i] = buildTree(sample, 0, f.MaxDepth, rng)
	}

	// Raw scores bunch near 0.5 because tree depth is capped, so Decision
	// centers on where the training data actually lands.
	raws := make([]float64, len(data))
	mean := 0.0
	for i, row := range data {
		raws[i] = f.rawScore(row)
		mean += raws[i]
	}
	mean /= float64(len(raws))
	variance := 0.0
	for _, r := range raws {
		d := r - mean
		variance += d * d
	}
	f.Offset = mean
	f.ScoreStd = math.Sqrt(variance / float64(len(raws)))
	return nil
}

// Decision returns the anomaly decision value: negative for anomalies,
// positive for inliers. The raw score is centered on the training mean and
// scaled by the training spread, so a point far off the training
// distribution lands well below zero even though capped tree depth keeps
// raw scores close to 0.5.
func (f *IsolationForest) Decision(sample []float64) float64 {
	raw := f.rawScore(sample)
	if f.ScoreStd <= 0 {
		return 0.5 - raw
	}
	return (f.Offset - raw) / f.ScoreStd * 0.1
}

// rawScore returns 2^(-E[h(x)]/c(n)): close to 1 for anomalies, around 0.5
// and below for inliers.
func (f *IsolationForest) rawScore(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	avgPath := 0.0
	for _, tree := range f.Trees {
		avgPath += pathLength(tree, sample, 0)
	}
	avgPath /= float64(len(f.Trees))

	c := averagePathLength(f.SampleSize)
	return math.Pow(2, -avgPath/c)
}

func buildTree(data [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &treeNode{Size: len(data)}
	}

	featureIdx := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, featureIdx)
	if minVal == maxVal {
		return &treeNode{Size: len(data)}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, sample := range data {
		if sample[featureIdx] < splitValue {
			leftData = append(leftData, sample)
		} else {
			rightData = append(rightData, sample)
		}
	}

	return &treeNode{
		SplitFeature: featureIdx,
		SplitValue:   splitValue,
		Size:         len(data),
		Left:         buildTree(leftData, depth+1, maxDepth, rng),
		Right:        buildTree(rightData, depth+1, maxDepth, rng),
	}
}

func pathLength(node *treeNode, sample []float64, depth int) float64 {
	if node.Left == nil && node.Right == nil {
		return float64(depth) + averagePathLength(node.Size)
	}
	if sample[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, sample, depth+1)
	}
	return pathLength(node.Right, sample, depth+1)
}

func sampleRows(data [][]float64, sampleSize int, rng *rand.Rand) [][]float64 {
	if len(data) <= sampleSize {
		return data
	}
	sample := make([][]float64, sampleSize)
	for i := 0; i < sampleSize; i++ {
		sample[i] = data[rng.Intn(len(data))]
	}
	return sample
}

func featureRange(data [][]float64, featureIdx int) (float64, float64) {
	minVal := data[0][featureIdx]
	maxVal := data[0][featureIdx]
	for _, sample := range data {
		if sample[featureIdx] < minVal {
			minVal = sample[featureIdx]
		}
		if sample[featureIdx] > maxVal {
			maxVal = sample[featureIdx]
		}
	}
	return minVal, maxVal
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}
