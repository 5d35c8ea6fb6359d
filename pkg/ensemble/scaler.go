package ensemble

import (
	"fmt"
	"math"
)

// StandardScaler centers features to zero mean and unit variance. Fitted
// parameters serialize with the model artifact so scoring after reload is
// identical.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// NewStandardScaler returns an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-feature mean and population standard deviation.
// Zero-variance features get std 1 so Transform is a no-op shift for them.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("scaler fit: no data provided")
	}

	numFeatures := len(data[0])
	s.Mean = make([]float64, numFeatures)
	s.Std = make([]float64, numFeatures)

	for _, sample := range data {
		for i, value := range sample {
			s.Mean[i] += value
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= float64(len(data))
	}

	for _, sample := range data {
		for i, value := range sample {
			diff := value - s.Mean[i]
			s.Std[i] += diff * diff
		}
	}
	for i := range s.Std {
		s.Std[i] = math.Sqrt(s.Std[i] / float64(len(data)))
		if s.Std[i] == 0 {
			s.Std[i] = 1.0
		}
	}

	return nil
}

// Transform scales each row in place-order, returning new slices.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler not fitted")
	}

	result := make([][]float64, len(data))
	for i, sample := range data {
		scaled, err := s.TransformOne(sample)
		if err != nil {
			return nil, err
		}
		result[i] = scaled
	}
	return result, nil
}

// TransformOne scales a single sample.
func (s *StandardScaler) TransformOne(sample []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler not fitted")
	}
	if len(sample) != len(s.Mean) {
		return nil, &DimensionError{Got: len(sample), Want: len(s.Mean)}
	}

	scaled := make([]float64, len(sample))
	for j, value := range sample {
		scaled[j] = (value - s.Mean[j]) / s.Std[j]
	}
	return scaled, nil
}
