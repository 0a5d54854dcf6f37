package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusError struct {
	status int
	header http.Header
}

func (e *statusError) Error() string       { return fmt.Sprintf("status %d", e.status) }
func (e *statusError) StatusCode() int     { return e.status }
func (e *statusError) Header() http.Header { return e.header }

func rateLimited(retryAfter string) *statusError {
	h := http.Header{}
	if retryAfter != "" {
		h.Set("Retry-After", retryAfter)
	}
	return &statusError{status: http.StatusTooManyRequests, header: h}
}

type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestExecuteWithRetry_SucceedsAfterRateLimits(t *testing.T) {
	calls := 0
	sleeper := &recordingSleep{}

	result, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", rateLimited("1")
		}
		return "success", nil
	}, WithSleep(sleeper.sleep))

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestExecuteWithRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	original := rateLimited("")
	sleeper := &recordingSleep{}

	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, original
	}, WithMaxRetries(2), WithSleep(sleeper.sleep))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Same(t, original, err)
	assert.Len(t, sleeper.delays, 2)
}

func TestExecuteWithRetry_DefaultMaxRetries(t *testing.T) {
	calls := 0
	sleeper := &recordingSleep{}

	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, rateLimited("")
	}, WithSleep(sleeper.sleep))

	require.Error(t, err)
	assert.Equal(t, DefaultMaxRetries+1, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestExecuteWithRetry_NonRateLimitFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("boom")},
		{"server error", &statusError{status: http.StatusInternalServerError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			sleeper := &recordingSleep{}
			_, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
				calls++
				return "", tt.err
			}, WithSleep(sleeper.sleep))

			assert.Same(t, tt.err, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, sleeper.delays)
		})
	}
}

func TestExecuteWithRetry_ZeroRetries(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", rateLimited("")
	}, WithMaxRetries(0), WithSleep((&recordingSleep{}).sleep))

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteWithRetry_RetryAfterOverridesBackoff(t *testing.T) {
	calls := 0
	sleeper := &recordingSleep{}

	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", rateLimited("7")
		}
		if calls == 2 {
			return "", rateLimited("1")
		}
		return "ok", nil
	}, WithSleep(sleeper.sleep))

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second, 2 * time.Second}, sleeper.delays)
}

func TestExecuteWithRetry_WrappedRateLimitError(t *testing.T) {
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("execute sql: %w", rateLimited(""))
		}
		return "ok", nil
	}, WithSleep((&recordingSleep{}).sleep))

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecuteWithRetry_OnRetryCallback(t *testing.T) {
	var attempts []int
	calls := 0
	_, err := ExecuteWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", rateLimited("")
		}
		return "ok", nil
	},
		WithSleep((&recordingSleep{}).sleep),
		WithOnRetry(func(attempt int, _ time.Duration, err error) {
			assert.True(t, IsRateLimited(err))
			attempts = append(attempts, attempt)
		}),
	)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, attempts)
}

func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := ExecuteWithRetry(ctx, func(context.Context) (string, error) {
		calls++
		cancel()
		return "", rateLimited("")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"seconds", rateLimited("3"), 3 * time.Second},
		{"fractional seconds", rateLimited("1.5"), 1500 * time.Millisecond},
		{"http date", rateLimited(now.Add(10 * time.Second).Format(http.TimeFormat)), 10 * time.Second},
		{"past http date", rateLimited(now.Add(-time.Minute).Format(http.TimeFormat)), 0},
		{"garbage", rateLimited("soon"), 0},
		{"negative", rateLimited("-4"), 0},
		{"missing header", rateLimited(""), 0},
		{"nil header", &statusError{status: http.StatusTooManyRequests}, 0},
		{"no header carrier", errors.New("plain"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfter(tt.err, now))
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0, 0))
	assert.Equal(t, 8*time.Second, backoff(3, 0))
	assert.Equal(t, 20*time.Second, backoff(3, 20*time.Second))
	assert.Equal(t, 8*time.Second, backoff(3, time.Second))
	assert.Equal(t, time.Duration(1<<30)*time.Second, backoff(100, 0))
}
