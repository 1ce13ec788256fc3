package model

// Window is a validated fixed-shape sequence of feature vectors, oldest first.
type Window [SeqLength]FeatureVector

// First returns the oldest row.
func (w *Window) First() FeatureVector { return w[0] }

// Last returns the newest row.
func (w *Window) Last() FeatureVector { return w[SeqLength-1] }

// Rows returns the window as a slice of slices, e.g. for JSON encoding.
func (w *Window) Rows() [][]float64 {
	rows := make([][]float64, SeqLength)
	for t := range w {
		rows[t] = append([]float64(nil), w[t][:]...)
	}
	return rows
}

// Layout is the flattening contract shared by scaler fitting and inference:
// row-major, timestep-major and feature-minor. The value at (t, f) lives at
// index t*NumFeatures+f of the flat vector. A scaler fitted on vectors that
// were not produced by Flatten silently mis-normalizes.
var Layout layout

type layout struct{}

// Index returns the flat index of timestep t, feature f.
func (layout) Index(t, f int) int { return t*NumFeatures + f }

// Flatten writes w into a new FlatSize vector.
func (l layout) Flatten(w Window) []float64 {
	flat := make([]float64, FlatSize)
	for t := 0; t < SeqLength; t++ {
		for f := 0; f < NumFeatures; f++ {
			flat[l.Index(t, f)] = w[t][f]
		}
	}
	return flat
}

// Reshape is the inverse of Flatten. flat must have FlatSize elements.
func (l layout) Reshape(flat []float64) Window {
	var w Window
	for t := 0; t < SeqLength; t++ {
		for f := 0; f < NumFeatures; f++ {
			w[t][f] = flat[l.Index(t, f)]
		}
	}
	return w
}
