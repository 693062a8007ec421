package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/netstate/indexer/pkg/metrics"
)

const (
	defaultMaxConcurrency = 8
	defaultCallTimeout    = 30 * time.Second
)

type FanOutConfig struct {
	// MaxConcurrency bounds the calls in flight.
	MaxConcurrency int

	// CallTimeout bounds each call.
	CallTimeout time.Duration

	// Limiter, if set, is waited on before each call starts.
	Limiter *rate.Limiter
}

func (cfg *FanOutConfig) Validate() error {
	if cfg.MaxConcurrency < 0 {
		return errors.New("max concurrency must not be negative")
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.CallTimeout < 0 {
		return errors.New("call timeout must not be negative")
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return nil
}

// Call is one unit of fan-out work, typically a request to one device.
type Call[T any] func(ctx context.Context) (T, error)

// Outcome is the result of the call at the same index.
type Outcome[T any] struct {
	Value T
	Err   error
}

// FanOut runs calls with at most cfg.MaxConcurrency in flight and returns
// one Outcome per call, in call order. A failing call does not cancel the
// others. Calls not yet started when ctx is done report ctx's error.
func FanOut[T any](ctx context.Context, cfg FanOutConfig, calls []Call[T]) ([]Outcome[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := make([]Outcome[T], len(calls))

	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			out[i] = runCall(ctx, cfg, call)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func runCall[T any](ctx context.Context, cfg FanOutConfig, call Call[T]) (o Outcome[T]) {
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}
	if cfg.Limiter != nil {
		if err := cfg.Limiter.Wait(ctx); err != nil {
			o.Err = fmt.Errorf("failed to wait for rate limiter: %w", err)
			return o
		}
	}

	metrics.FanOutInFlight.Inc()
	defer metrics.FanOutInFlight.Dec()

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.Err = fmt.Errorf("call panicked: %v", r)
		}
	}()
	o.Value, o.Err = call(callCtx)
	return o
}

// Errors returns the non-nil errors of outcomes.
func Errors[T any](outcomes []Outcome[T]) []error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
