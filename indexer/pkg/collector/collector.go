// Package collector defines how datasets are produced: a Collector returns a
// rectangular table for its dataset, and the indexer stamps and stores it.
package collector

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

// Collector produces the current rows of one dataset.
type Collector interface {
	Collect(ctx context.Context) (*dataset.Table, error)
}

// Func adapts a function to a Collector.
type Func func(ctx context.Context) (*dataset.Table, error)

func (f Func) Collect(ctx context.Context) (*dataset.Table, error) {
	return f(ctx)
}

// Registry maps job names to collectors. The job name is the dataset name.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

func (r *Registry) Register(job string, c Collector) error {
	if err := dataset.ValidateName(job); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("collector for %s is nil", job)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collectors[job]; ok {
		return fmt.Errorf("collector for %s already registered", job)
	}
	r.collectors[job] = c
	return nil
}

func (r *Registry) Get(job string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[job]
	return c, ok
}

// Jobs returns the registered job names, sorted.
func (r *Registry) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]string, 0, len(r.collectors))
	for j := range r.collectors {
		jobs = append(jobs, j)
	}
	slices.Sort(jobs)
	return jobs
}
