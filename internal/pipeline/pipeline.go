package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/failcast/internal/model"
	"github.com/crimson-sun/failcast/internal/output"
)

// DefaultSampleHistory is the number of sampled timesteps kept by default,
// twelve windows' worth.
const DefaultSampleHistory = 12 * model.SeqLength

// ErrOutput marks a Once failure that happened after the prediction was
// made, while writing it to the output.
var ErrOutput = errors.New("pipeline output failed")

// Sampler acquires a telemetry window. *telemetry.Sampler implements it.
type Sampler interface {
	Window(ctx context.Context) (model.Window, []model.Sample, error)
}

// Predictor turns a sampled window into a prediction. *engine.Engine
// implements it.
type Predictor interface {
	PredictSamples(ctx context.Context, w model.Window, samples []model.Sample) (model.Prediction, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHost stamps every prediction with the given host name.
func WithHost(name string) Option {
	return func(p *Pipeline) { p.host = name }
}

// WithSampleHistory sets how many sampled timesteps are retained for
// Samples. Default: DefaultSampleHistory.
func WithSampleHistory(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.keep = n
		}
	}
}

// WithLogger sets the logger used for per-cycle failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline connects a sampler, predictor, and output.
type Pipeline struct {
	sampler   Sampler
	predictor Predictor
	output    output.Output
	host      string
	logger    *slog.Logger

	keep int

	mu          sync.RWMutex
	latest      model.Prediction
	ok          bool
	lastFailure time.Time
	samples     []model.Sample
}

// New creates a Pipeline from the given components.
func New(s Sampler, pred Predictor, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		sampler:   s,
		predictor: pred,
		output:    out,
		logger:    slog.Default(),
		keep:      DefaultSampleHistory,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Once samples one window, predicts on it and writes the result to the
// output. The prediction is returned even when the output write fails.
func (p *Pipeline) Once(ctx context.Context) (model.Prediction, error) {
	w, samples, err := p.sampler.Window(ctx)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("pipeline sample: %w", err)
	}
	p.retain(samples)

	pred, err := p.predictor.PredictSamples(ctx, w, samples)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("pipeline predict: %w", err)
	}
	if p.host != "" {
		pred.Host = p.host
	}

	p.mu.Lock()
	p.latest, p.ok = pred, true
	if pred.WillFail {
		p.lastFailure = pred.Timestamp
	}
	p.mu.Unlock()

	if err := p.output.Write(ctx, pred); err != nil {
		return pred, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	return pred, nil
}

// Monitor runs Once every interval until the context is cancelled. A
// failed cycle is logged and the loop continues with the next one. The
// interval is measured from the start of one cycle to the start of the
// next; a cycle that overruns it is followed immediately by the next.
func (p *Pipeline) Monitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pred, err := p.Once(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			p.logger.Error("monitor cycle failed", "error", err)
		case pred.WillFail:
			p.logger.Warn("failure predicted",
				"probability", pred.Probability,
				"reason", pred.Reason,
			)
		default:
			p.logger.Info("host healthy", "probability", pred.Probability)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Latest returns the most recent successful prediction, if any.
func (p *Pipeline) Latest() (model.Prediction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ok
}

// LastFailure returns the time of the most recent will_fail prediction.
func (p *Pipeline) LastFailure() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastFailure, !p.lastFailure.IsZero()
}

// Samples returns up to limit of the most recently sampled timesteps,
// oldest first. A limit <= 0 returns everything retained.
func (p *Pipeline) Samples(limit int) []model.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.samples
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	return append([]model.Sample(nil), src...)
}

func (p *Pipeline) retain(samples []model.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, samples...)
	if over := len(p.samples) - p.keep; over > 0 {
		p.samples = append(p.samples[:0:0], p.samples[over:]...)
	}
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	return p.output.Close()
}
