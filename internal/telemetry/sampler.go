package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/crimson-sun/failcast/internal/metrics"
	"github.com/crimson-sun/failcast/internal/model"
)

// DefaultInterval is the delay between consecutive samples of a window.
const DefaultInterval = 500 * time.Millisecond

// Sampler assembles fixed-length windows from a Source at a fixed cadence.
// Sampling is sequential; each row reflects the state at its own instant.
type Sampler struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSampler creates a Sampler. A non-positive interval uses DefaultInterval.
func NewSampler(src Source, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{source: src, interval: interval, logger: logger, now: time.Now}
}

// Window samples model.SeqLength rows. A row whose read fails is replaced by
// zeros and marked Synthetic in the returned samples; it is neither retried
// nor allowed to abort the window. Only context cancellation stops sampling
// early, in which case the context error is returned.
func (s *Sampler) Window(ctx context.Context) (model.Window, []model.Sample, error) {
	var w model.Window
	samples := make([]model.Sample, model.SeqLength)

	for t := 0; t < model.SeqLength; t++ {
		if t > 0 {
			if err := sleep(ctx, s.interval); err != nil {
				return w, samples, err
			}
		}
		sample, err := s.sample(ctx, t)
		if err != nil {
			return w, samples, err
		}
		samples[t] = sample
		w[t] = sample.Row
	}
	return w, samples, nil
}

// Current reads a single row without fallback.
func (s *Sampler) Current(ctx context.Context) (model.FeatureVector, error) {
	return s.source.Read(ctx)
}

func (s *Sampler) sample(ctx context.Context, t int) (model.Sample, error) {
	at := s.now()
	row, err := s.source.Read(ctx)
	if err == nil {
		return model.Sample{At: at, Row: row}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return model.Sample{}, ctxErr
	}

	acqErr := &AcquisitionError{Index: t, Err: err}
	s.logger.Warn("telemetry sample failed, substituting zero row", "index", t, "error", err)
	metrics.ObserveSyntheticRow()
	return model.Sample{At: at, Err: acqErr, Synthetic: true}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
