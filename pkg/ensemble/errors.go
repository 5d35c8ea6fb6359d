package ensemble

import (
	"errors"
	"fmt"
)

// ErrNotTrained is returned when Predict runs before Fit or a model load.
var ErrNotTrained = errors.New("ensemble not trained")

// DimensionError reports a feature vector whose width does not match what
// the model was trained on. It is a data error, distinct from the
// configuration errors raised at construction.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("feature vector has %d dimensions, model expects %d", e.Got, e.Want)
}

// WeightError reports ensemble weights that do not form a convex
// combination.
type WeightError struct {
	Sum float64
}

func (e *WeightError) Error() string {
	return fmt.Sprintf("ensemble weights must sum to 1.0, got %g", e.Sum)
}
