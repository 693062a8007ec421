package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestNetstate_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("success on first attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Do(t.Context(), fastConfig(3), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("success after transient failures", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		var retried []int
		cfg := fastConfig(3)
		cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }
		err := Do(t.Context(), cfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
		require.Equal(t, []int{1, 2}, retried)
	})

	t.Run("exhausts attempts and wraps last error", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("connection reset by peer")
		attempts := 0
		err := Do(t.Context(), fastConfig(3), func() error {
			attempts++
			return cause
		})
		require.ErrorIs(t, err, cause)
		require.Equal(t, 3, attempts)
	})

	t.Run("non-retryable error returned immediately", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("invalid dataset name")
		attempts := 0
		err := Do(t.Context(), fastConfig(3), func() error {
			attempts++
			return cause
		})
		require.Equal(t, cause, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("permanent error unwrapped and not retried", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("connection refused")
		attempts := 0
		err := Do(t.Context(), fastConfig(3), func() error {
			attempts++
			return Permanent(cause)
		})
		require.Equal(t, cause, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("custom retryable predicate", func(t *testing.T) {
		t.Parallel()
		cfg := fastConfig(2)
		cfg.Retryable = func(error) bool { return true }
		attempts := 0
		err := Do(t.Context(), cfg, func() error {
			attempts++
			return errors.New("anything")
		})
		require.Error(t, err)
		require.Equal(t, 2, attempts)
	})

	t.Run("context cancellation stops retries", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cfg := Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("connection reset")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 2, attempts)
	})
}

func TestNetstate_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"sqlite busy", errors.New("database is locked"), true},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"503", &StatusError{Code: http.StatusServiceUnavailable, URL: "http://x"}, true},
		{"429", &StatusError{Code: http.StatusTooManyRequests, URL: "http://x"}, true},
		{"404", &StatusError{Code: http.StatusNotFound, URL: "http://x"}, false},
		{"syntax", errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNetstate_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	for attempt := 1; attempt <= 10; attempt++ {
		b := calculateBackoff(100*time.Millisecond, time.Second, attempt)
		require.LessOrEqual(t, b, time.Second)
		require.Greater(t, b, time.Duration(0))
	}
}
