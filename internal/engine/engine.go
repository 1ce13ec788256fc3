package engine

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/crimson-sun/failcast/internal/engine/attribution"
	"github.com/crimson-sun/failcast/internal/engine/classifier"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/metrics"
	"github.com/crimson-sun/failcast/internal/model"
)

// Engine orchestrates the validate → normalize → classify → attribute
// pipeline. It holds only immutable, shared state and is safe for
// concurrent use.
type Engine struct {
	scaler     *scaler.Scaler
	classifier *classifier.Classifier
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine with the provided components.
func New(sc *scaler.Scaler, cls *classifier.Classifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		scaler:     sc,
		classifier: cls,
		logger:     logger,
		now:        time.Now,
	}
}

// Classifier exposes the classifier so its threshold can be tuned at runtime.
func (e *Engine) Classifier() *classifier.Classifier {
	return e.classifier
}

// PredictRows validates untrusted rows and predicts on them. Shape
// violations return a *scaler.ShapeError before any transform runs.
func (e *Engine) PredictRows(ctx context.Context, rows [][]float64) (model.Prediction, error) {
	w, err := scaler.Validate(rows)
	if err != nil {
		metrics.ObserveShapeError()
		return model.Prediction{}, err
	}
	return e.Predict(ctx, w)
}

// Predict classifies a window and explains the dominant metric changes.
func (e *Engine) Predict(ctx context.Context, w model.Window) (model.Prediction, error) {
	start := time.Now()
	normalized := e.scaler.Normalize(w)

	p, err := e.classifier.Classify(ctx, normalized)
	metrics.ObserveInference(time.Since(start), err)
	if err != nil {
		e.logger.Error("inference failed", "error", err)
		return model.Prediction{}, err
	}

	willFail := e.classifier.Decide(p)
	exp := attribution.Explain(w)
	metrics.ObservePrediction(p, willFail)

	e.logger.Debug("prediction",
		"probability", p,
		"will_fail", willFail,
		"spike", exp.LastSpike.Change,
	)

	return model.Prediction{
		WillFail:    willFail,
		Probability: round3(p),
		Reason:      exp.Reason,
		LastSpike:   exp.LastSpike,
		Timestamp:   e.now(),
	}, nil
}

// PredictSamples predicts on a sampled window and records which rows were
// zero-filled after an acquisition failure.
func (e *Engine) PredictSamples(ctx context.Context, w model.Window, samples []model.Sample) (model.Prediction, error) {
	pred, err := e.Predict(ctx, w)
	if err != nil {
		return pred, err
	}
	pred.SyntheticRows = model.SyntheticRows(samples)
	if n := len(pred.SyntheticRows); n > 0 {
		e.logger.Warn("prediction includes synthetic rows", "rows", pred.SyntheticRows, "count", n)
	}
	return pred, nil
}

// Close releases the classifier's model.
func (e *Engine) Close() error {
	return e.classifier.Close()
}

func round3(p float64) float64 {
	return math.Round(p*1000) / 1000
}
