// Package validator reports entities whose monitored attribute differs
// between the first and the last snapshot they appear in.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/metrics"
)

// Reader is the part of the snapshot store the validator reads through.
type Reader interface {
	Schema(ctx context.Context, name string) (*dataset.Schema, error)
	EntitySpans(ctx context.Context, name string, identifierColumns []string) ([]dataset.EntitySpan, error)
	ReadSnapshotColumns(ctx context.Context, name string, ts dataset.Timestamp, columns []string) (*dataset.Snapshot, error)
}

type Config struct {
	Logger *slog.Logger
	Store  Reader
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

type Validator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{log: cfg.Logger, cfg: cfg}, nil
}

// DiffRecord is one detected transition.
type DiffRecord struct {
	Identifiers map[string]any
	Context     map[string]any
	Column      string
	Original    any
	New         any
	First       dataset.Timestamp
	Last        dataset.Timestamp

	key string
}

// Fields flattens the record into identifier and context values plus
// original_<column> and new_<column>.
func (r DiffRecord) Fields() map[string]any {
	out := make(map[string]any, len(r.Identifiers)+len(r.Context)+2)
	for k, v := range r.Identifiers {
		out[k] = v
	}
	for k, v := range r.Context {
		out[k] = v
	}
	out["original_"+r.Column] = r.Original
	out["new_"+r.Column] = r.New
	return out
}

func (r DiffRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields())
}

type row struct {
	values []any
	tuple  dataset.SurrogateKey
	ctxKey dataset.SurrogateKey
}

// snapshotIndex groups the rows of one snapshot by entity.
type snapshotIndex map[dataset.SurrogateKey][]row

// Validate evaluates rule. For each entity seen in more than one snapshot of
// the timestamp source, the rows at its first and last timestamp are
// compared as whole tuples of the selected columns; rows present on both
// sides are ignored. Remaining rows are paired and a record is emitted when
// the validation column differs. A missing dataset or column is an error.
func (v *Validator) Validate(ctx context.Context, rule Rule) ([]DiffRecord, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule %s: %w", rule.String(), err)
	}

	schema, err := v.cfg.Store.Schema(ctx, rule.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema of %s: %w", rule.Dataset, err)
	}
	selected, err := schema.ResolveColumns(rule.selectedColumns())
	if err != nil {
		return nil, err
	}
	names := make([]string, len(selected))
	for i, c := range selected {
		names[i] = c.Name
	}
	nID := len(rule.IdentifierColumns)
	validationIdx := len(names) - 1
	for i, n := range names {
		if strings.EqualFold(n, rule.ValidationColumn) {
			validationIdx = i
		}
	}
	var contextIdx []int
	for i := nID; i < len(names); i++ {
		if i != validationIdx {
			contextIdx = append(contextIdx, i)
		}
	}

	spans, err := v.cfg.Store.EntitySpans(ctx, rule.timestampSource(), rule.IdentifierColumns)
	if err != nil {
		return nil, fmt.Errorf("failed to compute timestamps from %s: %w", rule.timestampSource(), err)
	}

	// FromValue arrives as text from query strings and loosely typed from
	// YAML; compare it in the column's stored type.
	var fromKey dataset.SurrogateKey
	if rule.FromValue != nil {
		from, err := dataset.ConvertValue(selected[validationIdx].Type, rule.FromValue)
		if err != nil {
			return nil, fmt.Errorf("invalid from value for %s.%s: %w", rule.Dataset, names[validationIdx], err)
		}
		fromKey = dataset.NewNaturalKey(from).ToSurrogate()
	}

	snapshots := make(map[dataset.Timestamp]snapshotIndex)
	load := func(ts dataset.Timestamp) (snapshotIndex, error) {
		if idx, ok := snapshots[ts]; ok {
			return idx, nil
		}
		snap, err := v.cfg.Store.ReadSnapshotColumns(ctx, rule.Dataset, ts, names)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s at %s: %w", rule.Dataset, ts.Label(), err)
		}
		idx := make(snapshotIndex)
		for _, rec := range snap.Records {
			values := make([]any, len(names))
			for i, n := range names {
				values[i] = rec.Values[n]
			}
			ctxValues := make([]any, len(contextIdx))
			for i, j := range contextIdx {
				ctxValues[i] = values[j]
			}
			id := dataset.NewNaturalKey(values[:nID]...).ToSurrogate()
			idx[id] = append(idx[id], row{
				values: values,
				tuple:  dataset.NewNaturalKey(values...).ToSurrogate(),
				ctxKey: dataset.NewNaturalKey(ctxValues...).ToSurrogate(),
			})
		}
		snapshots[ts] = idx
		return idx, nil
	}

	var out []DiffRecord
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if span.First.Equal(span.Last) {
			continue
		}
		firstIdx, err := load(span.First)
		if err != nil {
			return nil, err
		}
		lastIdx, err := load(span.Last)
		if err != nil {
			return nil, err
		}

		id := dataset.NewNaturalKey(span.Key...).ToSurrogate()
		removed := difference(firstIdx[id], lastIdx[id])
		if len(removed) == 0 {
			continue
		}
		added := difference(lastIdx[id], firstIdx[id])

		for _, p := range pairRows(removed, added) {
			if p.old == nil || p.new == nil {
				v.log.Debug("validator: unpaired row", "rule", rule.String(), "entity", dataset.NewNaturalKey(span.Key...).String())
				continue
			}
			oldVal, newVal := p.old.values[validationIdx], p.new.values[validationIdx]
			if sameValue(oldVal, newVal) {
				continue
			}
			if rule.FromValue != nil && dataset.NewNaturalKey(oldVal).ToSurrogate() != fromKey {
				continue
			}
			rec := DiffRecord{
				Identifiers: make(map[string]any, nID),
				Context:     make(map[string]any, len(contextIdx)),
				Column:      names[validationIdx],
				Original:    oldVal,
				New:         newVal,
				First:       span.First,
				Last:        span.Last,
				key:         dataset.NewNaturalKey(p.new.values...).String(),
			}
			for i := range nID {
				rec.Identifiers[names[i]] = p.new.values[i]
			}
			for _, j := range contextIdx {
				rec.Context[names[j]] = p.new.values[j]
			}
			out = append(out, rec)
		}
	}

	slices.SortFunc(out, func(a, b DiffRecord) int { return strings.Compare(a.key, b.key) })
	if len(out) > 0 {
		metrics.TransitionsDetectedTotal.WithLabelValues(rule.Dataset, names[validationIdx]).Add(float64(len(out)))
	}
	v.log.Debug("validator: evaluated rule", "rule", rule.String(), "entities", len(spans), "transitions", len(out))
	return out, nil
}

// difference returns the distinct tuples of a that do not occur in b.
func difference(a, b []row) []row {
	in := make(map[dataset.SurrogateKey]struct{}, len(b))
	for _, r := range b {
		in[r.tuple] = struct{}{}
	}
	var out []row
	for _, r := range a {
		if _, ok := in[r.tuple]; ok {
			continue
		}
		in[r.tuple] = struct{}{}
		out = append(out, r)
	}
	return out
}

type pair struct {
	old, new *row
}

// pairRows matches removed and added rows on their context columns. If one
// row is left on each side afterwards they are matched with each other.
func pairRows(removed, added []row) []pair {
	used := make([]bool, len(added))
	var (
		pairs       []pair
		leftoverOld []int
	)
	for i := range removed {
		matched := false
		for j := range added {
			if !used[j] && added[j].ctxKey == removed[i].ctxKey {
				used[j] = true
				pairs = append(pairs, pair{old: &removed[i], new: &added[j]})
				matched = true
				break
			}
		}
		if !matched {
			leftoverOld = append(leftoverOld, i)
		}
	}
	var leftoverNew []int
	for j, u := range used {
		if !u {
			leftoverNew = append(leftoverNew, j)
		}
	}
	if len(leftoverOld) == 1 && len(leftoverNew) == 1 {
		return append(pairs, pair{old: &removed[leftoverOld[0]], new: &added[leftoverNew[0]]})
	}
	for _, i := range leftoverOld {
		pairs = append(pairs, pair{old: &removed[i]})
	}
	return pairs
}

// sameValue is exact equality: equal types and values, NULL equals NULL.
func sameValue(a, b any) bool {
	return dataset.NewNaturalKey(a).ToSurrogate() == dataset.NewNaturalKey(b).ToSurrogate()
}

// Result is the outcome of one rule in ValidateAll.
type Result struct {
	Rule    Rule
	Records []DiffRecord
	Err     error
}

// ValidateAll evaluates every rule. A failing rule does not stop the others;
// its error is recorded in its Result and joined into the returned error.
func (v *Validator) ValidateAll(ctx context.Context, rules []Rule) ([]Result, error) {
	results := make([]Result, 0, len(rules))
	var errs []error
	for _, rule := range rules {
		records, err := v.Validate(ctx, rule)
		if err != nil {
			metrics.ValidationErrorsTotal.WithLabelValues(rule.Dataset).Inc()
			v.log.Warn("validator: rule failed", "rule", rule.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", rule.String(), err))
		}
		results = append(results, Result{Rule: rule, Records: records, Err: err})
	}
	return results, errors.Join(errs...)
}
