// Package retry re-runs rate-limited operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// maxBackoffExponent bounds 2^attempt so the delay cannot overflow.
const maxBackoffExponent = 30

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// HeaderCarrier is implemented by errors that carry response headers.
type HeaderCarrier interface {
	Header() http.Header
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	maxRetries int
	sleep      SleepFunc
	logger     *slog.Logger
	onRetry    func(attempt int, delay time.Duration, err error)
	now        func() time.Time
}

// Option configures ExecuteWithRetry.
type Option func(*options)

// WithMaxRetries sets how many times a rate-limited call is retried.
// Negative values are treated as zero.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = max(n, 0)
	}
}

// WithSleep replaces the context-aware sleep between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithLogger logs each retry at warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithOnRetry registers a callback invoked before each sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// ExecuteWithRetry calls fn until it succeeds, fails with an error that is
// not a 429, or has been retried maxRetries times. The error returned is
// always the one fn produced, except when ctx ends during a backoff sleep.
//
// The delay before retry n (starting at 0) is the larger of 2^n seconds and
// the Retry-After header carried by the error.
func ExecuteWithRetry[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		maxRetries: DefaultMaxRetries,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) || attempt >= o.maxRetries {
			return result, err
		}

		delay := backoff(attempt, retryAfter(err, o.now()))
		if o.logger != nil {
			o.logger.Warn("rate limited, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", o.maxRetries),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
		}
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			var zero T
			return zero, sleepErr
		}
	}
}

// IsRateLimited reports whether err, or any error it wraps, carries status 429.
func IsRateLimited(err error) bool {
	var sc StatusCoder
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests
}

func backoff(attempt int, hint time.Duration) time.Duration {
	exp := time.Duration(math.Pow(2, float64(min(attempt, maxBackoffExponent)))) * time.Second
	return max(exp, hint)
}

// retryAfter reads Retry-After as delta seconds or an HTTP date.
func retryAfter(err error, now time.Time) time.Duration {
	var hc HeaderCarrier
	if !errors.As(err, &hc) {
		return 0
	}
	header := hc.Header()
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, parseErr := strconv.ParseFloat(value, 64); parseErr == nil {
		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0
		}
		if seconds > float64(math.MaxInt64/int64(time.Second)) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, parseErr := http.ParseTime(value); parseErr == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
