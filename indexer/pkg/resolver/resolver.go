// Package resolver orders collection jobs so that every job runs after the
// jobs it depends on.
package resolver

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var ErrCyclicDependency = errors.New("cyclic dependency")

// CyclicDependencyError names the jobs forming a dependency cycle, in
// traversal order with the first job repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// Dependencies maps a job to the jobs that must run before it, in the order
// they should be considered.
type Dependencies map[string][]string

// Prerequisites returns the direct prerequisites of job.
func (d Dependencies) Prerequisites(job string) []string {
	return d[job]
}

// Merge returns a copy of d where every job listed in other takes other's
// prerequisites.
func (d Dependencies) Merge(other Dependencies) Dependencies {
	out := make(Dependencies, len(d)+len(other))
	for job, pre := range d {
		out[job] = slices.Clone(pre)
	}
	for job, pre := range other {
		out[job] = slices.Clone(pre)
	}
	return out
}

// Jobs returns every job named in d, as a key or a prerequisite, sorted.
func (d Dependencies) Jobs() []string {
	set := make(map[string]struct{})
	for job, pre := range d {
		set[job] = struct{}{}
		for _, p := range pre {
			set[p] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Resolve expands requested into an execution order. Each job is preceded by
// its transitive prerequisites, discovered depth-first in declaration order,
// and appears once, at its first position. Jobs unknown to deps have no
// prerequisites. A cycle yields *CyclicDependencyError.
func Resolve(requested []string, deps Dependencies) ([]string, error) {
	var (
		order    = make([]string, 0, len(requested))
		visited  = make(map[string]bool)
		visiting = make(map[string]bool)
		path     []string
	)

	var visit func(job string) error
	visit = func(job string) error {
		if visited[job] {
			return nil
		}
		visiting[job] = true
		path = append(path, job)
		for _, pre := range deps[job] {
			if visiting[pre] {
				start := slices.Index(path, pre)
				cycle := append(slices.Clone(path[start:]), pre)
				return &CyclicDependencyError{Cycle: cycle}
			}
			if err := visit(pre); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(visiting, job)
		visited[job] = true
		order = append(order, job)
		return nil
	}

	for _, job := range requested {
		if err := visit(job); err != nil {
			return nil, err
		}
	}
	return order, nil
}
