package model

import "time"

// Sample is the outcome of acquiring a single timestep. When Err is set the
// row is all zeros and Synthetic is true.
type Sample struct {
	At        time.Time
	Row       FeatureVector
	Err       error
	Synthetic bool
}

// SyntheticRows returns the indices of samples that carry fallback rows.
func SyntheticRows(samples []Sample) []int {
	var idx []int
	for i, s := range samples {
		if s.Synthetic {
			idx = append(idx, i)
		}
	}
	return idx
}
