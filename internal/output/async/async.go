package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/crimson-sun/failcast/internal/metrics"
	"github.com/crimson-sun/failcast/internal/model"
	"github.com/crimson-sun/failcast/internal/output"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async: output closed")

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the queue capacity. Default: 256.
func WithBufferSize(n int) Option {
	return func(a *Async) {
		if n > 0 {
			a.capacity = n
		}
	}
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write shed load instead of blocking when the queue
// is full. Healthy predictions are shed before will_fail ones: an incoming
// healthy prediction is dropped, while an incoming failure evicts the
// oldest queued healthy prediction, or the oldest queued failure if there
// is none.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// Async decouples prediction production from delivery. Write enqueues; a
// background goroutine drains the queue to the wrapped output in order.
// Errors from the inner output go to errFunc rather than to the caller.
type Async struct {
	inner      output.Output
	errFunc    func(error)
	capacity   int
	dropOnFull bool

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []model.Prediction
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an output.Output in a queued writer. The drain goroutine starts
// immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:    inner,
		capacity: defaultBufferSize,
		errFunc:  func(err error) { slog.Warn("async output write error", "error", err) },
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.notEmpty = sync.NewCond(&a.mu)
	a.notFull = sync.NewCond(&a.mu)
	go a.drain()
	return a
}

// Write enqueues the prediction. When the queue is full it blocks until
// there is room, or sheds load under WithDropOnFull.
func (a *Async) Write(_ context.Context, pred model.Prediction) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for !a.closed && len(a.queue) >= a.capacity {
		if a.dropOnFull {
			a.shed(pred)
			return nil
		}
		a.notFull.Wait()
	}
	if a.closed {
		return ErrClosed
	}
	a.queue = append(a.queue, pred)
	a.notEmpty.Signal()
	return nil
}

// shed handles a full queue. Called with mu held.
func (a *Async) shed(pred model.Prediction) {
	if !pred.WillFail {
		dropped(pred, "buffer full")
		return
	}
	victim := 0
	for i, q := range a.queue {
		if !q.WillFail {
			victim = i
			break
		}
	}
	dropped(a.queue[victim], "evicted by failure prediction")
	a.queue = append(a.queue[:victim], a.queue[victim+1:]...)
	a.queue = append(a.queue, pred)
	a.notEmpty.Signal()
}

func dropped(pred model.Prediction, why string) {
	spike := ""
	if pred.LastSpike.Metric != nil {
		spike = *pred.LastSpike.Metric + " " + pred.LastSpike.Change
	}
	slog.Warn("async output dropping prediction",
		"why", why,
		"will_fail", pred.WillFail,
		"probability", pred.Probability,
		"spike", spike,
	)
	metrics.ObserveDroppedPrediction(pred.WillFail)
}

// Close stops accepting writes, waits for the queue to drain (bounded by a
// timeout), then closes the inner output.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.notEmpty.Broadcast()
		a.notFull.Broadcast()
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(defaultDrainTimeout):
			slog.Warn("async output drain timed out")
		}
		err = a.inner.Close()
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.notEmpty.Wait()
		}
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		pred := a.queue[0]
		a.queue = a.queue[1:]
		a.notFull.Signal()
		a.mu.Unlock()

		if err := a.inner.Write(context.Background(), pred); err != nil {
			a.errFunc(err)
		}
	}
}
