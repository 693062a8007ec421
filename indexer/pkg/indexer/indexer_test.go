package indexer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/indexer"
	"github.com/malbeclabs/netstate/indexer/pkg/resolver"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
	nstesting "github.com/malbeclabs/netstate/utils/pkg/testing"
)

var start = time.Date(2024, 3, 5, 14, 0, 30, 0, time.UTC)

// recorder collects the order in which jobs ran.
type recorder struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recorder) collector(job string, table func() (*dataset.Table, error)) collector.Collector {
	return collector.Func(func(ctx context.Context) (*dataset.Table, error) {
		r.mu.Lock()
		r.jobs = append(r.jobs, job)
		r.mu.Unlock()
		return table()
	})
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func rows(columns []string, values ...[]any) func() (*dataset.Table, error) {
	return func() (*dataset.Table, error) {
		t := dataset.NewTable(columns...)
		for _, v := range values {
			if err := t.Append(v...); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
}

func TestNetstate_Indexer_New(t *testing.T) {
	t.Parallel()
	log := nstesting.NewLogger()
	store := nstesting.NewSQLiteStore(t)

	_, err := indexer.New(indexer.Config{Store: store, Collectors: collector.NewRegistry()})
	require.Error(t, err)
	_, err = indexer.New(indexer.Config{Logger: log, Collectors: collector.NewRegistry()})
	require.Error(t, err)
	_, err = indexer.New(indexer.Config{Logger: log, Store: store})
	require.Error(t, err)
	_, err = indexer.New(indexer.Config{Logger: log, Store: store, Collectors: collector.NewRegistry(), Rules: validator.DefaultRules()})
	require.Error(t, err)
}

func TestNetstate_Indexer_RunOnce_OrdersJobsAndSharesTimestamp(t *testing.T) {
	t.Parallel()
	store := nstesting.NewSQLiteStore(t)
	rec := &recorder{}

	reg := collector.NewRegistry()
	require.NoError(t, reg.Register("organizations", rec.collector("organizations", rows([]string{"orgId"}, []any{"o1"}))))
	require.NoError(t, reg.Register("org_networks", rec.collector("org_networks", rows([]string{"orgId", "networkId"}, []any{"o1", "n1"}))))
	require.NoError(t, reg.Register("org_device_statuses", rec.collector("org_device_statuses",
		rows([]string{"serial", "status"}, []any{"Q2", "online"}, []any{"Q3", "offline"}))))

	idx, err := indexer.New(indexer.Config{
		Logger:     nstesting.NewLogger(),
		Clock:      clockwork.NewFakeClockAt(start),
		Store:      store,
		Collectors: reg,
		Jobs:       []string{"org_device_statuses"},
		Indexes: map[string]*dataset.Index{
			"org_device_statuses": {Name: "idx_statuses_serial", Columns: []string{"serial"}},
		},
	})
	require.NoError(t, err)
	require.False(t, idx.Ready())

	run, err := idx.RunOnce(t.Context())
	require.NoError(t, err)
	require.True(t, idx.Ready())
	require.Same(t, run, idx.LastRun())
	require.NotEmpty(t, run.ID)
	require.Equal(t, "2024-03-05_1400", run.Timestamp.Label())
	require.Equal(t, []string{"organizations", "org_networks", "org_device_statuses"}, run.Order)
	require.Equal(t, run.Order, rec.ran())
	require.Empty(t, run.Failed())
	require.Equal(t, 2, run.Jobs[2].Rows)
	require.True(t, run.Jobs[2].Ingest.IndexCreated)

	for _, name := range run.Order {
		ts, err := store.Timestamps(t.Context(), name)
		require.NoError(t, err)
		require.Equal(t, []dataset.Timestamp{run.Timestamp}, ts)
	}
}

func TestNetstate_Indexer_RunOnce_SkipsDependentsOfFailedJobs(t *testing.T) {
	t.Parallel()
	store := nstesting.NewSQLiteStore(t)
	rec := &recorder{}
	errAPI := errors.New("api unavailable")

	reg := collector.NewRegistry()
	require.NoError(t, reg.Register("parent", rec.collector("parent", func() (*dataset.Table, error) { return nil, errAPI })))
	require.NoError(t, reg.Register("child", rec.collector("child", rows([]string{"id"}, []any{1}))))
	require.NoError(t, reg.Register("grandchild", rec.collector("grandchild", rows([]string{"id"}, []any{1}))))
	require.NoError(t, reg.Register("other", rec.collector("other", rows([]string{"id"}, []any{1}))))

	var (
		mu       sync.Mutex
		reported []string
	)
	idx, err := indexer.New(indexer.Config{
		Logger:     nstesting.NewLogger(),
		Clock:      clockwork.NewFakeClockAt(start),
		Store:      store,
		Collectors: reg,
		Dependencies: resolver.Dependencies{
			"child":      {"parent"},
			"grandchild": {"child"},
		},
		OnJobError: func(job string, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, job)
		},
	})
	require.NoError(t, err)

	run, err := idx.RunOnce(t.Context())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"parent", "other"}, rec.ran())
	require.Equal(t, []string{"parent"}, reported)

	status := make(map[string]indexer.JobStatus)
	for _, j := range run.Jobs {
		status[j.Job] = j.Status
	}
	require.Equal(t, map[string]indexer.JobStatus{
		"parent":     indexer.JobStatusError,
		"child":      indexer.JobStatusSkipped,
		"grandchild": indexer.JobStatusSkipped,
		"other":      indexer.JobStatusSuccess,
	}, status)
	require.Len(t, run.Failed(), 3)
	for _, j := range run.Jobs {
		if j.Job == "parent" {
			require.ErrorIs(t, j.Err, errAPI)
		}
	}

	_, err = store.Schema(t.Context(), "child")
	require.ErrorIs(t, err, dataset.ErrDatasetNotFound)
}

func TestNetstate_Indexer_RunOnce_MissingCollector(t *testing.T) {
	t.Parallel()

	idx, err := indexer.New(indexer.Config{
		Logger:       nstesting.NewLogger(),
		Store:        nstesting.NewSQLiteStore(t),
		Collectors:   collector.NewRegistry(),
		Jobs:         []string{"devices"},
		Dependencies: resolver.Dependencies{},
	})
	require.NoError(t, err)

	run, err := idx.RunOnce(t.Context())
	require.NoError(t, err)
	require.Len(t, run.Jobs, 1)
	require.ErrorIs(t, run.Jobs[0].Err, indexer.ErrNoCollector)
}

func TestNetstate_Indexer_RunOnce_CyclicDependencies(t *testing.T) {
	t.Parallel()

	reg := collector.NewRegistry()
	require.NoError(t, reg.Register("a", collector.Func(func(ctx context.Context) (*dataset.Table, error) { return nil, nil })))

	idx, err := indexer.New(indexer.Config{
		Logger:       nstesting.NewLogger(),
		Store:        nstesting.NewSQLiteStore(t),
		Collectors:   reg,
		Dependencies: resolver.Dependencies{"a": {"b"}, "b": {"a"}},
	})
	require.NoError(t, err)

	_, err = idx.RunOnce(t.Context())
	require.ErrorIs(t, err, resolver.ErrCyclicDependency)
	require.False(t, idx.Ready())
}

func TestNetstate_Indexer_RunOnce_Validates(t *testing.T) {
	t.Parallel()
	store := nstesting.NewSQLiteStore(t)
	clock := clockwork.NewFakeClockAt(start)

	var (
		mu     sync.Mutex
		status = "online"
	)
	reg := collector.NewRegistry()
	require.NoError(t, reg.Register("devices", collector.Func(func(ctx context.Context) (*dataset.Table, error) {
		mu.Lock()
		defer mu.Unlock()
		return rows([]string{"name", "status"}, []any{"dev1", status}, []any{"dev2", "online"})()
	})))

	v, err := validator.New(validator.Config{Logger: nstesting.NewLogger(), Store: store})
	require.NoError(t, err)

	idx, err := indexer.New(indexer.Config{
		Logger:       nstesting.NewLogger(),
		Clock:        clock,
		Store:        store,
		Collectors:   reg,
		Dependencies: resolver.Dependencies{},
		Validator:    v,
		Rules: []validator.Rule{{
			Dataset:           "devices",
			IdentifierColumns: []string{"name"},
			ValidationColumn:  "status",
			FromValue:         "online",
		}},
	})
	require.NoError(t, err)

	run, err := idx.RunOnce(t.Context())
	require.NoError(t, err)
	require.Len(t, run.Validations, 1)
	require.Empty(t, run.Validations[0].Records)

	mu.Lock()
	status = "offline"
	mu.Unlock()
	clock.Advance(time.Hour)

	run, err = idx.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, "2024-03-05_1500", run.Timestamp.Label())
	require.Len(t, run.Validations, 1)
	require.NoError(t, run.Validations[0].Err)
	require.Len(t, run.Validations[0].Records, 1)
	require.Equal(t, "dev1", run.Validations[0].Records[0].Identifiers["name"])
	require.Equal(t, "offline", run.Validations[0].Records[0].New)
}

func TestNetstate_Indexer_Start(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(start)

	var (
		mu   sync.Mutex
		runs int
	)
	reg := collector.NewRegistry()
	require.NoError(t, reg.Register("devices", collector.Func(func(ctx context.Context) (*dataset.Table, error) {
		mu.Lock()
		defer mu.Unlock()
		runs++
		return rows([]string{"name"}, []any{"dev1"})()
	})))

	idx, err := indexer.New(indexer.Config{
		Logger:          nstesting.NewLogger(),
		Clock:           clock,
		Store:           nstesting.NewSQLiteStore(t),
		Collectors:      reg,
		Dependencies:    resolver.Dependencies{},
		RefreshInterval: 15 * time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	idx.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	require.NoError(t, idx.WaitReady(waitCtx))
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(15 * time.Minute)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs == 2
	}, 10*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		last := idx.LastRun()
		return last != nil && last.Timestamp.Label() == "2024-03-05_1415"
	}, 10*time.Second, 10*time.Millisecond)
}
