package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/crimson-sun/failcast/internal/model"
)

// DefaultThreshold is the probability above which a window predicts failure.
const DefaultThreshold = 0.5

// ErrInference matches any *InferenceError via errors.Is.
var ErrInference = errors.New("inference failed")

// InferenceError wraps a failed forward pass. It is never retried.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "classifier: inference failed: " + e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

// Model is a pretrained binary sequence classifier. input is a flat
// [SeqLength*NumFeatures] tensor laid out by model.Layout; the result is a
// failure probability.
type Model interface {
	Predict(ctx context.Context, input []float32) (float64, error)
	Close() error
}

// Classifier runs a Model over normalized windows and applies the decision
// threshold. Safe for concurrent use.
type Classifier struct {
	model     Model
	threshold atomic.Uint64
}

// New creates a Classifier. A threshold outside (0, 1) falls back to
// DefaultThreshold.
func New(m Model, threshold float64) *Classifier {
	c := &Classifier{model: m}
	c.SetThreshold(threshold)
	return c
}

// Threshold returns the current decision threshold.
func (c *Classifier) Threshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// SetThreshold replaces the decision threshold.
func (c *Classifier) SetThreshold(t float64) {
	if !(t > 0 && t < 1) {
		t = DefaultThreshold
	}
	c.threshold.Store(math.Float64bits(t))
}

// Classify runs one forward pass over a normalized window and returns the
// failure probability.
func (c *Classifier) Classify(ctx context.Context, normalized model.Window) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := c.model.Predict(ctx, Tensor(normalized))
	if err != nil {
		return 0, &InferenceError{Err: err}
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, &InferenceError{Err: fmt.Errorf("probability %v outside [0, 1]", p)}
	}
	return p, nil
}

// Decide reports whether p predicts failure. The comparison is strict, so a
// probability equal to the threshold does not.
func (c *Classifier) Decide(p float64) bool {
	return p > c.Threshold()
}

// Close releases the underlying model.
func (c *Classifier) Close() error {
	return c.model.Close()
}

// Tensor converts a window into the flat float32 input the model expects.
func Tensor(w model.Window) []float32 {
	flat := model.Layout.Flatten(w)
	out := make([]float32, len(flat))
	for i, v := range flat {
		out[i] = float32(v)
	}
	return out
}
