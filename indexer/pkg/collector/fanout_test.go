package collector_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
)

func TestNetstate_Collector_FanOut_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const k = 3
	var inFlight, peak atomic.Int64
	calls := make([]collector.Call[int], 20)
	for i := range calls {
		calls[i] = func(ctx context.Context) (int, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return i * 2, nil
		}
	}

	outcomes, err := collector.FanOut(t.Context(), collector.FanOutConfig{MaxConcurrency: k}, calls)
	require.NoError(t, err)
	require.Len(t, outcomes, len(calls))
	require.LessOrEqual(t, peak.Load(), int64(k))
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		require.Equal(t, i*2, o.Value)
	}
}

func TestNetstate_Collector_FanOut_PartialFailure(t *testing.T) {
	t.Parallel()

	errUnreachable := errors.New("device unreachable")
	calls := []collector.Call[string]{
		func(ctx context.Context) (string, error) { return "a", nil },
		func(ctx context.Context) (string, error) { return "", errUnreachable },
		func(ctx context.Context) (string, error) { panic("boom") },
		func(ctx context.Context) (string, error) { return "d", nil },
	}

	outcomes, err := collector.FanOut(t.Context(), collector.FanOutConfig{MaxConcurrency: 2}, calls)
	require.NoError(t, err)
	require.Equal(t, "a", outcomes[0].Value)
	require.ErrorIs(t, outcomes[1].Err, errUnreachable)
	require.ErrorContains(t, outcomes[2].Err, "panicked")
	require.Equal(t, "d", outcomes[3].Value)
	require.Len(t, collector.Errors(outcomes), 2)
}

func TestNetstate_Collector_FanOut_CallTimeout(t *testing.T) {
	t.Parallel()

	calls := []collector.Call[int]{
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		func(ctx context.Context) (int, error) { return 1, nil },
	}

	start := time.Now()
	outcomes, err := collector.FanOut(t.Context(), collector.FanOutConfig{CallTimeout: 20 * time.Millisecond}, calls)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	require.Equal(t, 1, outcomes[1].Value)
}

func TestNetstate_Collector_FanOut_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var ran atomic.Int64
	calls := []collector.Call[int]{
		func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 1, nil
		},
		func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 2, nil
		},
	}
	outcomes, err := collector.FanOut(ctx, collector.FanOutConfig{}, calls)
	require.NoError(t, err)
	require.Zero(t, ran.Load())
	for _, o := range outcomes {
		require.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestNetstate_Collector_FanOut_RateLimited(t *testing.T) {
	t.Parallel()

	calls := make([]collector.Call[int], 4)
	for i := range calls {
		calls[i] = func(ctx context.Context) (int, error) { return i, nil }
	}

	start := time.Now()
	outcomes, err := collector.FanOut(t.Context(), collector.FanOutConfig{
		MaxConcurrency: 4,
		Limiter:        rate.NewLimiter(rate.Every(20*time.Millisecond), 1),
	}, calls)
	require.NoError(t, err)
	require.Empty(t, collector.Errors(outcomes))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestNetstate_Collector_FanOut_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := collector.FanOut[int](t.Context(), collector.FanOutConfig{MaxConcurrency: -1}, nil)
	require.Error(t, err)

	outcomes, err := collector.FanOut[int](t.Context(), collector.FanOutConfig{}, nil)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}
