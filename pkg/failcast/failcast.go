package failcast

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/failcast/internal/engine"
	"github.com/crimson-sun/failcast/internal/engine/attribution"
	"github.com/crimson-sun/failcast/internal/engine/classifier"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/model"
)

// Features lists the metric names in the order each row must follow.
var Features = model.Features

const (
	// NumFeatures is the number of metrics per row.
	NumFeatures = model.NumFeatures
	// SeqLength is the number of rows per window.
	SeqLength = model.SeqLength
)

var (
	// ErrShape matches errors for windows that are not 10x10 or contain
	// non-finite values.
	ErrShape = scaler.ErrShape
	// ErrInference matches errors raised by the classifier.
	ErrInference = classifier.ErrInference
)

// Model is a pretrained sequence classifier. Predict receives a normalized
// window flattened row-major into SeqLength*NumFeatures values and returns
// the failure probability.
type Model interface {
	Predict(ctx context.Context, input []float32) (float64, error)
	Close() error
}

// Spike is the most significant metric change in a window. Metric is empty
// when nothing changed significantly.
type Spike struct {
	Metric string
	Change string
}

// Prediction is a failure verdict with its explanation.
type Prediction struct {
	WillFail    bool
	Probability float64
	Reason      string
	LastSpike   Spike
	Timestamp   time.Time
}

// Change is one metric's first-to-last movement over a window.
type Change = attribution.Change

// Predictor classifies telemetry windows. Safe for concurrent use.
type Predictor struct {
	engine *engine.Engine
}

// New creates a Predictor, loading the scaler and the ONNX model. Loading
// fails fast: a missing or malformed artifact is returned as an error.
func New(opts ...Option) (*Predictor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	modelPath, scalerPath := resolvePaths(o)

	var (
		sc  *scaler.Scaler
		err error
	)
	if o.scale != nil || o.min != nil {
		sc, err = scaler.New(o.scale, o.min)
	} else {
		sc, err = scaler.Load(scalerPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failcast: %w", err)
	}

	m := classifier.Model(o.model)
	if m == nil {
		onnx, err := classifier.NewONNXModel(modelPath, o.libraryPath)
		if err != nil {
			return nil, fmt.Errorf("failcast: %w", err)
		}
		m = onnx
	}

	cls := classifier.New(m, o.threshold)
	return &Predictor{engine: engine.New(sc, cls, o.logger)}, nil
}

// Predict validates rows, classifies the window and explains it. Errors
// match ErrShape or ErrInference.
func (p *Predictor) Predict(ctx context.Context, rows [][]float64) (Prediction, error) {
	pred, err := p.engine.PredictRows(ctx, rows)
	if err != nil {
		return Prediction{}, err
	}
	return fromModel(pred), nil
}

// Explain returns the per-metric changes of rows without running the
// classifier.
func (p *Predictor) Explain(rows [][]float64) ([]Change, error) {
	w, err := scaler.Validate(rows)
	if err != nil {
		return nil, err
	}
	return attribution.Changes(w), nil
}

// Threshold reports the decision threshold in use.
func (p *Predictor) Threshold() float64 {
	return p.engine.Classifier().Threshold()
}

// Close releases model resources.
func (p *Predictor) Close() error {
	return p.engine.Close()
}

func fromModel(pred model.Prediction) Prediction {
	out := Prediction{
		WillFail:    pred.WillFail,
		Probability: pred.Probability,
		Reason:      pred.Reason,
		LastSpike:   Spike{Change: pred.LastSpike.Change},
		Timestamp:   pred.Timestamp,
	}
	if pred.LastSpike.Metric != nil {
		out.LastSpike.Metric = *pred.LastSpike.Metric
	}
	return out
}
