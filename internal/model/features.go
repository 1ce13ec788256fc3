package model

// Feature names in load-bearing order. Sampler, scaler and classifier all
// index rows by position in this slice.
var Features = [NumFeatures]string{
	"cpu",
	"memory",
	"disk",
	"temperature",
	"errors",
	"response_time",
	"network",
	"uptime",
	"processes",
	"threads",
}

const (
	// NumFeatures is the width of a feature vector.
	NumFeatures = 10
	// SeqLength is the number of timesteps in a window.
	SeqLength = 10
	// FlatSize is the length of a flattened window.
	FlatSize = SeqLength * NumFeatures
)

// FeatureIndex returns the position of name in Features, or -1.
func FeatureIndex(name string) int {
	for i, f := range Features {
		if f == name {
			return i
		}
	}
	return -1
}

// FeatureVector is one timestep of telemetry.
type FeatureVector [NumFeatures]float64

// Named returns the vector keyed by feature name.
func (v FeatureVector) Named() map[string]float64 {
	m := make(map[string]float64, NumFeatures)
	for i, f := range Features {
		m[f] = v[i]
	}
	return m
}
