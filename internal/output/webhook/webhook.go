package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/failcast/internal/httpclient"
	"github.com/crimson-sun/failcast/internal/model"
)

const (
	defaultBatchSize     = 20
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
	defaultRetries       = 3
	defaultBackoff       = time.Second
)

// Alert is the JSON document POSTed on every flush.
type Alert struct {
	SentAt         time.Time          `json:"sent_at"`
	Failing        int                `json:"failing"`
	MaxProbability float64            `json:"max_probability"`
	Predictions    []model.Prediction `json:"predictions"`
}

func newAlert(batch []model.Prediction, now time.Time) Alert {
	a := Alert{SentAt: now.UTC(), Predictions: batch}
	for _, p := range batch {
		if p.WillFail {
			a.Failing++
		}
		a.MaxProbability = max(a.MaxProbability, p.Probability)
	}
	return a
}

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets the number of healthy predictions accumulated before a
// flush. Default: 20.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum time a healthy prediction waits before
// being sent. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the per-request timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.timeout = d }
}

// WithRetries sets how often a 429 or 5xx response is retried and the base
// backoff. Default: 3 retries from 1s.
func WithRetries(n int, backoff time.Duration) Option {
	return func(o *Output) { o.retries, o.backoff = n, backoff }
}

// WithFailuresOnly drops predictions whose verdict is not will_fail, turning
// the webhook into a pure alert channel.
func WithFailuresOnly() Option {
	return func(o *Output) { o.failuresOnly = true }
}

// WithOnError sets a callback invoked when a timer-triggered flush fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output POSTs predictions to an HTTP endpoint wrapped in an Alert.
// Healthy predictions are batched until batchSize or flushInterval; a
// will_fail prediction flushes the pending batch at once.
type Output struct {
	client        *httpclient.Client
	headers       map[string]string
	timeout       time.Duration
	retries       int
	backoff       time.Duration
	batchSize     int
	flushInterval time.Duration
	failuresOnly  bool
	errFunc       func(error)
	now           func() time.Time

	mu      sync.Mutex
	pending []model.Prediction
	timer   *time.Timer
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		timeout:       defaultTimeout,
		retries:       defaultRetries,
		backoff:       defaultBackoff,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		errFunc:       func(err error) { slog.Warn("webhook flush error", "error", err) },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.client = httpclient.New(url,
		httpclient.WithTimeout(o.timeout),
		httpclient.WithRetries(o.retries, o.backoff),
		httpclient.WithHeaders(o.headers),
	)
	return o
}

// Write queues a prediction, flushing when it is a failure or the batch is
// full. The first queued healthy prediction arms the flush timer.
func (o *Output) Write(ctx context.Context, pred model.Prediction) error {
	if o.failuresOnly && !pred.WillFail {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, pred)
	if pred.WillFail || len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}

	if len(o.pending) == 1 {
		o.timer = time.AfterFunc(o.flushInterval, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.flushLocked(context.Background()); err != nil {
				o.errFunc(err)
			}
		})
	}
	return nil
}

// Close flushes any remaining predictions and stops the timer.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked(context.Background())
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) == 0 {
		return nil
	}

	batch := o.pending
	o.pending = nil

	if err := o.client.PostJSON(ctx, "", newAlert(batch, o.now()), nil); err != nil {
		return fmt.Errorf("webhook: %d predictions lost: %w", len(batch), err)
	}
	return nil
}
