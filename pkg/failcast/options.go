package failcast

import (
	"log/slog"
	"path/filepath"
)

const (
	modelFile  = "failure_predictor.onnx"
	scalerFile = "scaler.safetensors"
)

type options struct {
	modelDir    string
	modelPath   string
	scalerPath  string
	libraryPath string
	threshold   float64
	model       Model
	scale, min  []float64
	logger      *slog.Logger
}

// Option configures a Predictor.
type Option func(*options)

// WithModelDir sets the directory containing the model artifacts.
// Expects: failure_predictor.onnx, scaler.safetensors.
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithModelPaths sets explicit paths for the ONNX model and the scaler.
func WithModelPaths(model, scaler string) Option {
	return func(o *options) {
		o.modelPath = model
		o.scalerPath = scaler
	}
}

// WithLibraryPath sets the ONNX Runtime shared library. By default it is
// looked up next to the model file.
func WithLibraryPath(path string) Option {
	return func(o *options) {
		o.libraryPath = path
	}
}

// WithThreshold sets the probability above which a window is predicted to
// fail. Values outside (0, 1) fall back to the default of 0.5.
func WithThreshold(t float64) Option {
	return func(o *options) {
		o.threshold = t
	}
}

// WithModel replaces the ONNX classifier with m. No model file is loaded.
func WithModel(m Model) Option {
	return func(o *options) {
		o.model = m
	}
}

// WithScaler supplies fitted MinMax parameters directly instead of loading
// scaler.safetensors. Both slices must have length 100.
func WithScaler(scale, min []float64) Option {
	return func(o *options) {
		o.scale = scale
		o.min = min
	}
}

// WithLogger sets the logger used for inference diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func defaultOptions() options {
	return options{threshold: 0.5}
}

// resolvePaths determines the model and scaler paths. Explicit paths take
// precedence over modelDir.
func resolvePaths(o options) (model, scaler string) {
	if o.modelPath != "" {
		return o.modelPath, o.scalerPath
	}
	dir := o.modelDir
	if dir == "" {
		dir = "models"
	}
	return filepath.Join(dir, modelFile), filepath.Join(dir, scalerFile)
}
