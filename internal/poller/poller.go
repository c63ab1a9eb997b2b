// Package poller samples a device at a fixed cadence on its own goroutine
// and hands the newest sample to one subscriber and to a single-slot cell
// that other goroutines can read on demand.
package poller

import (
	"context"
	"sync"
	"time"

	"codeberg.org/dltlab/dltcal/internal/errors"
	"codeberg.org/dltlab/dltcal/internal/logger"
)

const (
	defaultMaxConsecutiveFailures = 5
	defaultReadTimeout            = 2 * time.Second
)

// ReadFunc performs one device read. It must honour ctx.
type ReadFunc[T any] func(ctx context.Context) (T, error)

// Worker runs a fixed-interval sampling loop against one device.
type Worker[T any] struct {
	name        string
	interval    time.Duration
	read        ReadFunc[T]
	readTimeout time.Duration
	maxFailures int
	log         logger.Logger

	latest Latest[T]

	mu         sync.Mutex
	subscriber func(T)
	started    bool
	stopped    bool
	cancel     context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// Option configures a Worker.
type Option func(*options)

type options struct {
	readTimeout time.Duration
	maxFailures int
	log         logger.Logger
}

// WithReadTimeout bounds every read. Zero disables the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithMaxConsecutiveFailures sets how many failed reads in a row are
// tolerated. The worker stops itself once the count is exceeded. Zero
// means never give up.
func WithMaxConsecutiveFailures(n int) Option {
	return func(o *options) { o.maxFailures = n }
}

// WithLogger injects the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates a stopped worker; call Start to begin sampling.
func New[T any](name string, interval time.Duration, read ReadFunc[T], opts ...Option) *Worker[T] {
	o := options{
		readTimeout: defaultReadTimeout,
		maxFailures: defaultMaxConsecutiveFailures,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.New("poller")
	}

	return &Worker[T]{
		name:        name,
		interval:    interval,
		read:        read,
		readTimeout: o.readTimeout,
		maxFailures: o.maxFailures,
		log:         o.log.With("worker", name),
		done:        make(chan struct{}),
	}
}

// Subscribe registers the single consumer. fn runs on the polling goroutine
// after every successful read and must return quickly.
func (w *Worker[T]) Subscribe(fn func(T)) error {
	errFactory := errors.New()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscriber != nil {
		return errFactory.New(ErrSubscriberTaken)
	}
	if w.started {
		return errFactory.WithMessage(ErrWorkerRunning, "subscribe before start")
	}
	w.subscriber = fn

	return nil
}

// Start launches the sampling loop. The loop ends when ctx is cancelled,
// Stop is called, or the failure threshold is exceeded.
func (w *Worker[T]) Start(ctx context.Context) error {
	errFactory := errors.New()
	if w.interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, w.interval.String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return errFactory.New(ErrWorkerStopped)
	}
	if w.started {
		return errFactory.New(ErrWorkerRunning)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.started = true

	go w.run(loopCtx, w.subscriber)

	w.log.Debug().Dur("interval", w.interval).Msg("Polling started")

	return nil
}

// Stop halts sampling. It is safe to call before Start, more than once, and
// from any goroutine including the subscriber. It does not wait; use Wait.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true

	if w.cancel != nil {
		w.cancel()
	}
	if !w.started {
		w.finish(nil)
	}
}

// Wait blocks until the loop has exited and returns the fatal error, if the
// worker stopped itself.
func (w *Worker[T]) Wait() error {
	<-w.done
	return w.err
}

// Done is closed once the loop has exited.
func (w *Worker[T]) Done() <-chan struct{} {
	return w.done
}

// Err returns the fatal error after Done is closed, nil otherwise.
func (w *Worker[T]) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Latest returns the newest successful reading.
func (w *Worker[T]) Latest() (T, bool) {
	return w.latest.Load()
}

func (w *Worker[T]) finish(err error) {
	w.doneOnce.Do(func() {
		w.err = err
		close(w.done)
	})
}

func (w *Worker[T]) run(ctx context.Context, subscriber func(T)) {
	var fatal error
	defer func() { w.finish(fatal) }()

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			return
		}
		begin := time.Now()

		v, err := w.readOnce(ctx)
		switch {
		case err == nil:
			failures = 0
			w.latest.Store(v)
			if subscriber != nil {
				subscriber(v)
			}
		case ctx.Err() != nil:
			return
		default:
			failures++
			w.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("Read failed, skipping sample")
			if w.maxFailures > 0 && failures > w.maxFailures {
				fatal = errors.New().Wrap(ErrPollingFailed, err)
				w.log.Error().Err(err).Int("consecutive_failures", failures).Msg("Too many consecutive read failures, stopping")
				return
			}
		}

		wait := w.interval - time.Since(begin)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (w *Worker[T]) readOnce(ctx context.Context) (T, error) {
	if w.readTimeout <= 0 {
		return w.read(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, w.readTimeout)
	defer cancel()
	return w.read(rctx)
}
