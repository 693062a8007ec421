// Package httpjson collects a dataset from one or more JSON HTTP endpoints,
// typically the same management API queried once per device or site.
package httpjson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/utils/pkg/retry"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 20
)

type Config struct {
	Logger *slog.Logger
	URLs   []string

	// Client defaults to an http.Client with a 30s timeout.
	Client *http.Client

	// Headers are sent with every request, e.g. an API key.
	Headers map[string]string

	// RecordsPath selects the records inside each response.
	RecordsPath string

	// SourceColumn, if set, adds a column holding the URL each row came from.
	SourceColumn string

	MaxConcurrency int
	CallTimeout    time.Duration

	// RequestsPerSecond limits the request rate across all URLs. Zero means
	// unlimited.
	RequestsPerSecond float64

	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.URLs) == 0 {
		return errors.New("at least one URL is required")
	}
	for _, u := range cfg.URLs {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", u, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid URL %q: scheme must be http or https", u)
		}
	}
	if cfg.SourceColumn != "" {
		if err := dataset.ValidateName(cfg.SourceColumn); err != nil {
			return err
		}
	}
	if cfg.RequestsPerSecond < 0 {
		return errors.New("requests per second must not be negative")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type Collector struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

var _ collector.Collector = (*Collector)(nil)

func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Collector{log: cfg.Logger, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Collect fetches every URL and concatenates their records. Failed URLs are
// logged and skipped; Collect fails only when no URL succeeds.
func (c *Collector) Collect(ctx context.Context) (*dataset.Table, error) {
	calls := make([]collector.Call[[]map[string]any], len(c.cfg.URLs))
	for i, u := range c.cfg.URLs {
		calls[i] = func(ctx context.Context) ([]map[string]any, error) {
			return c.fetch(ctx, u)
		}
	}

	outcomes, err := collector.FanOut(ctx, collector.FanOutConfig{
		MaxConcurrency: c.cfg.MaxConcurrency,
		CallTimeout:    c.cfg.CallTimeout,
		Limiter:        c.limiter,
	}, calls)
	if err != nil {
		return nil, err
	}

	var (
		records []map[string]any
		errs    []error
	)
	for i, o := range outcomes {
		if o.Err != nil {
			c.log.Warn("httpjson: request failed", "url", c.cfg.URLs[i], "error", o.Err)
			errs = append(errs, fmt.Errorf("%s: %w", c.cfg.URLs[i], o.Err))
			continue
		}
		for _, rec := range o.Value {
			if c.cfg.SourceColumn != "" {
				rec[c.cfg.SourceColumn] = c.cfg.URLs[i]
			}
			records = append(records, rec)
		}
	}
	if len(errs) == len(outcomes) {
		return nil, fmt.Errorf("all %d requests failed: %w", len(errs), errors.Join(errs...))
	}

	c.log.Debug("httpjson: collected", "urls", len(c.cfg.URLs), "failed", len(errs), "rows", len(records))
	return dataset.FromRecords(records), nil
}

func (c *Collector) fetch(ctx context.Context, u string) ([]map[string]any, error) {
	var records []map[string]any
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.cfg.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &retry.StatusError{Code: resp.StatusCode, URL: u}
		}

		records, err = collector.DecodeRecords(io.LimitReader(resp.Body, maxBodyBytes), c.cfg.RecordsPath)
		if err != nil {
			return retry.Permanent(err)
		}
		return nil
	})
	return records, err
}
