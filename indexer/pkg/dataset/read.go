package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Record is one stored row.
type Record struct {
	ID        int64
	Timestamp Timestamp
	Values    map[string]any
}

// Get returns the value of column name, matching case-insensitively when
// there is no exact match.
func (r Record) Get(name string) (any, bool) {
	if v, ok := r.Values[name]; ok {
		return v, true
	}
	for k, v := range r.Values {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Values)+2)
	for k, v := range r.Values {
		m[k] = v
	}
	m[IDColumn] = r.ID
	m[TimestampColumn] = r.Timestamp.Label()
	return json.Marshal(m)
}

// Snapshot holds the rows of one dataset under one timestamp label.
type Snapshot struct {
	Dataset   string    `json:"dataset"`
	Timestamp Timestamp `json:"timestamp"`
	Columns   []string  `json:"columns"`
	Records   []Record  `json:"records"`
}

// EntitySpan is the first and last snapshot in which an entity appears.
type EntitySpan struct {
	Key       []any
	First     Timestamp
	Last      Timestamp
	Snapshots int
}

// Datasets lists the registered dataset names.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	names, err := listDatasets(ctx, s.cfg.DB)
	return names, s.classify(err)
}

// Schema returns the registry entry of dataset.
func (s *Store) Schema(ctx context.Context, name string) (*Schema, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	schema, err := loadSchema(ctx, s.cfg.DB, s.cfg.Dialect, name)
	return schema, s.classify(err)
}

// Timestamps returns the distinct snapshot labels of dataset, oldest first.
func (s *Store) Timestamps(ctx context.Context, name string) ([]Timestamp, error) {
	schema, err := s.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	d := s.cfg.Dialect
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", d.QuoteIdent(TimestampColumn), d.QuoteIdent(schema.Table))
	rows, err := s.cfg.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, s.classify(fmt.Errorf("failed to query timestamps of %s: %w", name, err))
	}
	defer rows.Close()

	var out []Timestamp
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		ts, err := ParseTimestamp(label)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(fmt.Errorf("failed to query timestamps of %s: %w", name, err))
	}
	slices.SortFunc(out, Timestamp.Compare)
	return out, nil
}

// ReadSnapshot returns all rows of dataset labelled ts.
func (s *Store) ReadSnapshot(ctx context.Context, name string, ts Timestamp) (*Snapshot, error) {
	schema, err := s.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.readSnapshot(ctx, schema, ts, schema.DataColumns())
}

// ReadSnapshotColumns is ReadSnapshot restricted to the given columns.
func (s *Store) ReadSnapshotColumns(ctx context.Context, name string, ts Timestamp, columns []string) (*Snapshot, error) {
	schema, err := s.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	cols, err := schema.ResolveColumns(columns)
	if err != nil {
		return nil, err
	}
	return s.readSnapshot(ctx, schema, ts, cols)
}

// LatestSnapshot returns the rows of the newest snapshot of dataset.
func (s *Store) LatestSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	tss, err := s.Timestamps(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(tss) == 0 {
		return nil, fmt.Errorf("%w: %s has no snapshots", ErrDatasetNotFound, name)
	}
	return s.ReadSnapshot(ctx, name, tss[len(tss)-1])
}

func (s *Store) readSnapshot(ctx context.Context, schema *Schema, ts Timestamp, cols []Column) (*Snapshot, error) {
	d := s.cfg.Dialect
	selected := make([]string, 0, len(cols)+1)
	selected = append(selected, d.QuoteIdent(IDColumn))
	names := make([]string, len(cols))
	for i, c := range cols {
		selected = append(selected, d.QuoteIdent(c.Name))
		names[i] = c.Name
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		strings.Join(selected, ", "), d.QuoteIdent(schema.Table),
		d.QuoteIdent(TimestampColumn), d.Placeholder(1), d.QuoteIdent(IDColumn))

	rows, err := s.cfg.DB.QueryContext(ctx, query, ts.Label())
	if err != nil {
		return nil, s.classify(fmt.Errorf("failed to read %s at %s: %w", schema.Dataset, ts.Label(), err))
	}
	defer rows.Close()

	snap := &Snapshot{Dataset: schema.Dataset, Timestamp: ts, Columns: names, Records: []Record{}}
	dest := make([]any, len(cols)+1)
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", schema.Dataset, err)
		}
		id, ok := normalizeValue(TypeInteger, dest[0]).(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected %s value %v in %s", IDColumn, dest[0], schema.Dataset)
		}
		rec := Record{ID: id, Timestamp: ts, Values: make(map[string]any, len(cols))}
		for i, c := range cols {
			rec.Values[c.Name] = normalizeValue(c.Type, dest[i+1])
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(fmt.Errorf("failed to read %s at %s: %w", schema.Dataset, ts.Label(), err))
	}
	return snap, nil
}

// EntitySpans returns, for every distinct tuple of the identifier columns,
// the oldest and newest snapshot containing it. Spans are ordered by key.
func (s *Store) EntitySpans(ctx context.Context, name string, identifierColumns []string) ([]EntitySpan, error) {
	if len(identifierColumns) == 0 {
		return nil, fmt.Errorf("at least one identifier column is required")
	}
	schema, err := s.Schema(ctx, name)
	if err != nil {
		return nil, err
	}
	cols, err := schema.ResolveColumns(identifierColumns)
	if err != nil {
		return nil, err
	}

	d := s.cfg.Dialect
	selected := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		selected = append(selected, d.QuoteIdent(c.Name))
	}
	selected = append(selected, d.QuoteIdent(TimestampColumn))
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", strings.Join(selected, ", "), d.QuoteIdent(schema.Table))

	rows, err := s.cfg.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, s.classify(fmt.Errorf("failed to query entity spans of %s: %w", name, err))
	}
	defer rows.Close()

	type span struct {
		EntitySpan
		order string
	}
	spans := make(map[SurrogateKey]*span)
	dest := make([]any, len(cols)+1)
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan entity span of %s: %w", name, err)
		}
		key := make([]any, len(cols))
		for i, c := range cols {
			key[i] = normalizeValue(c.Type, dest[i])
		}
		label, _ := normalizeValue(TypeText, dest[len(cols)]).(string)
		ts, err := ParseTimestamp(label)
		if err != nil {
			return nil, err
		}
		nk := NewNaturalKey(key...)
		sk := nk.ToSurrogate()
		sp, ok := spans[sk]
		if !ok {
			spans[sk] = &span{EntitySpan: EntitySpan{Key: key, First: ts, Last: ts, Snapshots: 1}, order: nk.String()}
			continue
		}
		sp.Snapshots++
		if ts.Before(sp.First) {
			sp.First = ts
		}
		if ts.After(sp.Last) {
			sp.Last = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(fmt.Errorf("failed to query entity spans of %s: %w", name, err))
	}

	ordered := make([]*span, 0, len(spans))
	for _, sp := range spans {
		ordered = append(ordered, sp)
	}
	slices.SortFunc(ordered, func(a, b *span) int { return strings.Compare(a.order, b.order) })
	out := make([]EntitySpan, len(ordered))
	for i, sp := range ordered {
		out[i] = sp.EntitySpan
	}
	return out, nil
}
