package scaler

import (
	"fmt"

	"github.com/crimson-sun/failcast/internal/model"
)

// Scaler is a fitted per-column min/max transform over flattened windows:
// x' = x*scale + min. Immutable once built; safe for concurrent use.
type Scaler struct {
	scale [model.FlatSize]float64
	min   [model.FlatSize]float64
}

// New builds a Scaler from fitted scale and min vectors, each of length
// model.FlatSize.
func New(scale, min []float64) (*Scaler, error) {
	if len(scale) != model.FlatSize || len(min) != model.FlatSize {
		return nil, fmt.Errorf("scaler: expected %d columns, got scale=%d min=%d",
			model.FlatSize, len(scale), len(min))
	}
	s := &Scaler{}
	copy(s.scale[:], scale)
	copy(s.min[:], min)
	return s, nil
}

// Normalize flattens w through model.Layout, scales every column, and
// reshapes the result back into a window.
func (s *Scaler) Normalize(w model.Window) model.Window {
	flat := model.Layout.Flatten(w)
	s.transform(flat)
	return model.Layout.Reshape(flat)
}

func (s *Scaler) transform(flat []float64) {
	for i := range flat {
		flat[i] = flat[i]*s.scale[i] + s.min[i]
	}
}

// Fit computes a min/max scaler mapping every flattened column of windows
// onto [0, 1]. Constant columns get a scale of 1.
func Fit(windows []model.Window) (*Scaler, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("scaler: fit needs at least one window")
	}

	lo := model.Layout.Flatten(windows[0])
	hi := append([]float64(nil), lo...)
	for _, w := range windows[1:] {
		for i, v := range model.Layout.Flatten(w) {
			if v < lo[i] {
				lo[i] = v
			}
			if v > hi[i] {
				hi[i] = v
			}
		}
	}

	s := &Scaler{}
	for i := range lo {
		rng := hi[i] - lo[i]
		if rng == 0 {
			rng = 1
		}
		s.scale[i] = 1 / rng
		s.min[i] = -lo[i] * s.scale[i]
	}
	return s, nil
}
