// Package indexer runs collection: it orders the requested jobs, collects
// and stores each dataset under one shared timestamp, then evaluates the
// validation rules over the accumulated snapshots.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/metrics"
	"github.com/malbeclabs/netstate/indexer/pkg/resolver"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
)

var ErrNoCollector = errors.New("no collector registered")

// Store is where collected tables are written.
type Store interface {
	Ingest(ctx context.Context, name string, table *dataset.Table, ts dataset.Timestamp, index *dataset.Index) (*dataset.IngestResult, error)
}

type Validator interface {
	ValidateAll(ctx context.Context, rules []validator.Rule) ([]validator.Result, error)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Store      Store
	Collectors *collector.Registry

	// Dependencies orders jobs. Nil means resolver.DefaultDependencies.
	Dependencies resolver.Dependencies

	// Jobs are the jobs requested per run. Empty means every registered
	// collector.
	Jobs []string

	// Indexes are created on a job's dataset after it is ingested.
	Indexes map[string]*dataset.Index

	// Validator evaluates Rules after each run. Optional.
	Validator Validator
	Rules     []validator.Rule

	RefreshInterval time.Duration

	// OnJobError is called for every failed job, e.g. to report it.
	OnJobError func(job string, err error)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Collectors == nil {
		return errors.New("collectors are required")
	}
	if cfg.RefreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	if len(cfg.Rules) > 0 && cfg.Validator == nil {
		return errors.New("validator is required when rules are set")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dependencies == nil {
		cfg.Dependencies = resolver.DefaultDependencies()
	}
	return nil
}

type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
	JobStatusSkipped JobStatus = "skipped"
)

type JobResult struct {
	Job      string                `json:"job"`
	Status   JobStatus             `json:"status"`
	Rows     int                   `json:"rows"`
	Ingest   *dataset.IngestResult `json:"-"`
	Duration time.Duration         `json:"duration"`
	Err      error                 `json:"-"`
}

// RunResult describes one collection run.
type RunResult struct {
	ID          string
	Timestamp   dataset.Timestamp
	Order       []string
	Jobs        []JobResult
	Validations []validator.Result
}

// Failed returns the results of jobs that did not succeed.
func (r *RunResult) Failed() []JobResult {
	var out []JobResult
	for _, j := range r.Jobs {
		if j.Status != JobStatusSuccess {
			out = append(out, j)
		}
	}
	return out
}

type Indexer struct {
	log *slog.Logger
	cfg Config

	runMu   sync.Mutex
	lastMu  sync.RWMutex
	lastRun *RunResult

	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Indexer{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether a run has completed.
func (i *Indexer) Ready() bool {
	select {
	case <-i.readyCh:
		return true
	default:
		return false
	}
}

func (i *Indexer) WaitReady(ctx context.Context) error {
	select {
	case <-i.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for indexer: %w", ctx.Err())
	}
}

// LastRun returns the most recent completed run, or nil.
func (i *Indexer) LastRun() *RunResult {
	i.lastMu.RLock()
	defer i.lastMu.RUnlock()
	return i.lastRun
}

// Start runs immediately and then every RefreshInterval until ctx is done.
func (i *Indexer) Start(ctx context.Context) {
	go func() {
		i.log.Info("indexer: starting refresh loop", "interval", i.cfg.RefreshInterval)

		i.safeRun(ctx)
		if i.cfg.RefreshInterval == 0 {
			return
		}

		ticker := i.cfg.Clock.NewTicker(i.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				i.safeRun(ctx)
			}
		}
	}()
}

func (i *Indexer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("indexer: run panicked", "panic", r)
			metrics.RunTotal.WithLabelValues("panic").Inc()
		}
	}()

	if _, err := i.RunOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		i.log.Error("indexer: run failed", "error", err)
	}
}

// RunOnce performs one collection run. Every job in the run shares the
// same timestamp. A failed job does not stop the run, but jobs depending on
// it are skipped. Validation failures are reported in the result.
func (i *Indexer) RunOnce(ctx context.Context) (*RunResult, error) {
	i.runMu.Lock()
	defer i.runMu.Unlock()

	start := time.Now()
	run := &RunResult{
		ID:        uuid.NewString(),
		Timestamp: dataset.NewTimestamp(i.cfg.Clock.Now()),
	}
	log := i.log.With("run", run.ID, "timestamp", run.Timestamp.Label())

	requested := i.cfg.Jobs
	if len(requested) == 0 {
		requested = i.cfg.Collectors.Jobs()
	}
	order, err := resolver.Resolve(requested, i.cfg.Dependencies)
	if err != nil {
		metrics.RunTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to resolve jobs: %w", err)
	}
	run.Order = order
	log.Info("indexer: run started", "jobs", len(order))

	failed := make(map[string]bool)
	for _, job := range order {
		if err := ctx.Err(); err != nil {
			metrics.RunTotal.WithLabelValues("canceled").Inc()
			return run, err
		}

		var blockedBy string
		for _, pre := range i.cfg.Dependencies.Prerequisites(job) {
			if failed[pre] {
				blockedBy = pre
				break
			}
		}
		if blockedBy != "" {
			failed[job] = true
			log.Warn("indexer: skipping job", "job", job, "failed_prerequisite", blockedBy)
			metrics.CollectorRunTotal.WithLabelValues(job, string(JobStatusSkipped)).Inc()
			run.Jobs = append(run.Jobs, JobResult{Job: job, Status: JobStatusSkipped})
			continue
		}

		res := i.runJob(ctx, job, run.Timestamp)
		metrics.CollectorRunTotal.WithLabelValues(job, string(res.Status)).Inc()
		metrics.CollectorRunDuration.WithLabelValues(job).Observe(res.Duration.Seconds())
		if res.Err != nil {
			failed[job] = true
			log.Error("indexer: job failed", "job", job, "error", res.Err)
			if i.cfg.OnJobError != nil {
				i.cfg.OnJobError(job, res.Err)
			}
		} else {
			log.Info("indexer: job completed", "job", job, "rows", res.Rows, "duration", res.Duration.String())
		}
		run.Jobs = append(run.Jobs, res)
	}

	if len(i.cfg.Rules) > 0 {
		results, err := i.cfg.Validator.ValidateAll(ctx, i.cfg.Rules)
		if err != nil {
			log.Warn("indexer: validation incomplete", "error", err)
		}
		for _, r := range results {
			for _, rec := range r.Records {
				log.Info("indexer: transition detected", "rule", r.Rule.String(), "entity", rec.Identifiers,
					"from", rec.Original, "to", rec.New, "first", rec.First.Label(), "last", rec.Last.Label())
			}
		}
		run.Validations = results
	}

	status := "success"
	if n := len(run.Failed()); n > 0 {
		status = "partial"
		if n == len(run.Jobs) {
			status = "error"
		}
	}
	duration := time.Since(start)
	metrics.RunTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(duration.Seconds())
	log.Info("indexer: run completed", "status", status, "jobs", len(run.Jobs), "failed", len(run.Failed()), "duration", duration.String())

	i.lastMu.Lock()
	i.lastRun = run
	i.lastMu.Unlock()
	i.readyOnce.Do(func() { close(i.readyCh) })
	return run, nil
}

func (i *Indexer) runJob(ctx context.Context, job string, ts dataset.Timestamp) JobResult {
	start := time.Now()
	res := JobResult{Job: job, Status: JobStatusError}

	c, ok := i.cfg.Collectors.Get(job)
	if !ok {
		res.Err = fmt.Errorf("%w for %s", ErrNoCollector, job)
		res.Duration = time.Since(start)
		return res
	}
	table, err := c.Collect(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to collect %s: %w", job, err)
		res.Duration = time.Since(start)
		return res
	}
	ingest, err := i.cfg.Store.Ingest(ctx, job, table, ts, i.cfg.Indexes[job])
	res.Ingest = ingest
	if err != nil {
		res.Err = fmt.Errorf("failed to ingest %s: %w", job, err)
		res.Duration = time.Since(start)
		return res
	}
	res.Status = JobStatusSuccess
	res.Rows = ingest.Rows
	res.Duration = time.Since(start)
	return res
}

func (i *Indexer) Close() error {
	return nil
}
