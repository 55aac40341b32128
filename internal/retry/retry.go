// Package retry re-runs external calls that were rejected for rate limiting,
// waiting exponentially longer between attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second

	// maxInterval only has to exceed any delay reachable with sane attempt counts.
	maxInterval = 24 * time.Hour
)

// ErrRateLimited can be wrapped by callers that detect throttling without an
// HTTP status, so that Do treats the error as retryable.
var ErrRateLimited = errors.New("rate limited")

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// IsRateLimited reports whether err is a throttling rejection: HTTP 429, HTTP
// 401 (the group service answers bursts with 401 as well), ErrRateLimited, or
// any error whose message mentions "too many requests".
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case 429, 401:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

type options struct {
	maxAttempts  int
	initialDelay time.Duration
	notify       func(err error, attempt int, wait time.Duration)
	timer        backoff.Timer
}

// Option customises a call to Do.
type Option func(*options)

// WithMaxAttempts sets the total number of attempts, including the first one.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithInitialDelay sets the wait before the second attempt. Every following
// wait doubles.
func WithInitialDelay(d time.Duration) Option {
	return func(o *options) { o.initialDelay = d }
}

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(err error, attempt int, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// withTimer replaces the real timer, used by tests to avoid sleeping.
func withTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// Do calls op until it succeeds, returns an error that is not a rate limit,
// or the attempts are exhausted. The wait before attempt n+1 is
// initialDelay * 2^(n-1). On exhaustion the last error is returned; if ctx is
// cancelled while waiting, ctx.Err() is returned.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	o := options{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	if o.initialDelay <= 0 {
		o.initialDelay = DefaultInitialDelay
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.initialDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(o.maxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		telemetry.ExternalAPIRetriesTotal.Inc()
		slog.Debug("rate limited, retrying", "attempt", attempt, "wait", wait, "error", err)
		if o.notify != nil {
			o.notify(err, attempt, wait)
		}
	}

	return backoff.RetryNotifyWithTimer(operation, b, notify, o.timer)
}
