// Package readiness blocks until a named streaming job has made enough progress.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	DefaultProgressions = 3
	DefaultInterval     = 5 * time.Second
	DefaultTimeout      = 2 * time.Minute
	DefaultJitter       = 0.1
)

var (
	// ErrNotReady is returned (wrapped in *NotReadyError) when the wait bound expires.
	ErrNotReady = errors.New("stream not ready")
	// ErrInvalidName is returned for an empty job name.
	ErrInvalidName = errors.New("job name is required")
)

// Job is a named background job with an append-only progress log.
type Job interface {
	Name() string
	ProgressCount() int
}

// Lister enumerates the currently active jobs.
type Lister interface {
	Active() []Job
}

// ListerFunc adapts a function to a Lister.
type ListerFunc func() []Job

func (f ListerFunc) Active() []Job { return f() }

// Notifier is optionally implemented by a Lister that can signal changes.
// The returned channel is closed on the next change.
type Notifier interface {
	Changed() <-chan struct{}
}

// NotReadyError describes a wait that ran out of time.
type NotReadyError struct {
	Name     string
	Want     int
	Observed int  // progress count from the last poll
	Found    bool // whether the job was present at the last poll
	Attempts int
	Elapsed  time.Duration
}

func (e *NotReadyError) Error() string {
	if !e.Found {
		return fmt.Sprintf("stream %q not ready after %s (%d polls): no active job with that name", e.Name, e.Elapsed.Round(time.Millisecond), e.Attempts)
	}
	return fmt.Sprintf("stream %q not ready after %s (%d polls): %d/%d progress reports", e.Name, e.Elapsed.Round(time.Millisecond), e.Attempts, e.Observed, e.Want)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// Waiter polls a Lister until a named job reaches the readiness threshold.
type Waiter struct {
	lister       Lister
	progressions int
	interval     time.Duration
	timeout      time.Duration
	unbounded    bool
	jitter       float64
	backoff      float64
	maxInterval  time.Duration
	limiter      *rate.Limiter
	notify       func() <-chan struct{}
	out          io.Writer
	logger       arbor.ILogger
	rnd          func() float64
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithProgressions sets the minimum number of progress reports. Values <= 0 keep the default.
func WithProgressions(n int) Option {
	return func(w *Waiter) {
		if n > 0 {
			w.progressions = n
		}
	}
}

// WithInterval sets the base delay between polls.
func WithInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTimeout bounds the total wait. Zero keeps the default unless WithUnbounded is also set.
func WithTimeout(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithUnbounded disables the wait bound; only ctx can end an unsuccessful wait.
func WithUnbounded() Option {
	return func(w *Waiter) {
		w.unbounded = true
	}
}

// WithJitter randomizes each delay by ±frac of its value. frac is clamped to [0, 1).
func WithJitter(frac float64) Option {
	return func(w *Waiter) {
		switch {
		case frac < 0:
			frac = 0
		case frac >= 1:
			frac = 0.99
		}
		w.jitter = frac
	}
}

// WithBackoff grows the delay by factor after every unsuccessful poll, capped at max.
func WithBackoff(factor float64, max time.Duration) Option {
	return func(w *Waiter) {
		if factor >= 1 {
			w.backoff = factor
		}
		w.maxInterval = max
	}
}

// WithLimiter shares a rate limiter between waiters to cap registry queries.
func WithLimiter(l *rate.Limiter) Option {
	return func(w *Waiter) {
		w.limiter = l
	}
}

// WithNotify wakes the waiter early whenever the returned channel closes.
func WithNotify(fn func() <-chan struct{}) Option {
	return func(w *Waiter) {
		w.notify = fn
	}
}

// WithOutput sets where the confirmation line is written. nil discards it.
func WithOutput(out io.Writer) Option {
	return func(w *Waiter) {
		if out == nil {
			out = io.Discard
		}
		w.out = out
	}
}

// WithLogger attaches a logger.
func WithLogger(l arbor.ILogger) Option {
	return func(w *Waiter) {
		w.logger = l
	}
}

func withRand(fn func() float64) Option {
	return func(w *Waiter) {
		w.rnd = fn
	}
}

// New constructs a Waiter over l.
func New(l Lister, opts ...Option) *Waiter {
	w := &Waiter{
		lister:       l,
		progressions: DefaultProgressions,
		interval:     DefaultInterval,
		timeout:      DefaultTimeout,
		jitter:       DefaultJitter,
		backoff:      1,
		out:          os.Stdout,
		rnd:          rand.Float64,
	}
	if n, ok := l.(Notifier); ok {
		w.notify = n.Changed
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = arbor.NewLogger()
	}
	return w
}

// UntilReady is shorthand for New(l, opts...).Wait(ctx, name).
func UntilReady(ctx context.Context, l Lister, name string, opts ...Option) error {
	return New(l, opts...).Wait(ctx, name)
}

// Lookup returns the progress count of the first active job called name.
func Lookup(l Lister, name string) (count int, found bool) {
	for _, j := range l.Active() {
		if j != nil && j.Name() == name {
			return j.ProgressCount(), true
		}
	}
	return 0, false
}

// Wait blocks until the first active job named name has at least the configured
// number of progress reports. The first poll happens immediately.
func (w *Waiter) Wait(ctx context.Context, name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if w.lister == nil {
		return errors.New("readiness: lister is required")
	}

	start := time.Now()
	parent := ctx
	if !w.unbounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	delay := w.interval
	last := NotReadyError{Name: name, Want: w.progressions}

	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return w.stopped(parent, &last, start)
			}
		}

		// Grab the change channel before polling so a report landing between
		// the poll and the select still wakes us.
		var wake <-chan struct{}
		if w.notify != nil {
			wake = w.notify()
		}

		last.Attempts++
		last.Observed, last.Found = Lookup(w.lister, name)
		if last.Found && last.Observed >= w.progressions {
			w.logger.Info().Str("stream", name).Int("progress", last.Observed).Int("polls", last.Attempts).Msg("Stream ready")
			fmt.Fprintf(w.out, "The stream %s is active and ready.\n", name)
			return nil
		}
		w.logger.Debug().Str("stream", name).Bool("found", last.Found).Int("progress", last.Observed).Int("want", w.progressions).Msg("Stream not ready yet")

		t := time.NewTimer(w.jittered(delay))
		select {
		case <-ctx.Done():
			t.Stop()
			return w.stopped(parent, &last, start)
		case <-wake:
			t.Stop()
		case <-t.C:
		}
		delay = w.next(delay)
	}
}

// stopped reports why the loop ended: caller cancellation or our own bound.
func (w *Waiter) stopped(parent context.Context, last *NotReadyError, start time.Time) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("readiness: waiting for %q: %w", last.Name, err)
	}
	last.Elapsed = time.Since(start)
	w.logger.Warn().Str("stream", last.Name).Bool("found", last.Found).Int("progress", last.Observed).Int("polls", last.Attempts).Msg("Gave up waiting for stream")
	e := *last
	return &e
}

func (w *Waiter) jittered(d time.Duration) time.Duration {
	if w.jitter <= 0 {
		return d
	}
	f := 1 + w.jitter*(2*w.rnd()-1)
	return time.Duration(float64(d) * f)
}

func (w *Waiter) next(d time.Duration) time.Duration {
	if w.backoff <= 1 {
		return d
	}
	n := time.Duration(float64(d) * w.backoff)
	if w.maxInterval > 0 && n > w.maxInterval {
		n = w.maxInterval
	}
	return n
}
