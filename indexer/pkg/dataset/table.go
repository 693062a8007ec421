package dataset

import (
	"fmt"
	"strings"
)

// Table is a rectangular batch produced by a collector: named columns and
// rows of values in column order.
type Table struct {
	Columns []string
	Rows    [][]any
}

func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. The number of values must match the column count.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("%w: row has %d values, expected %d", ErrInvalidTable, len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Validate rejects empty or duplicate column names (case-insensitive) and
// ragged rows.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidTable)
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidTable, c)
		}
		seen[key] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%w: row %d has %d values, expected %d", ErrInvalidTable, i, len(row), len(t.Columns))
		}
	}
	return nil
}

// FromRecords builds a table from map records. Columns appear in the order
// they are first seen, keys within one record sorted so the result is stable.
func FromRecords(records []map[string]any) *Table {
	t := &Table{}
	index := make(map[string]int)
	for _, rec := range records {
		for _, k := range sortedKeys(rec) {
			if _, ok := index[k]; !ok {
				index[k] = len(t.Columns)
				t.Columns = append(t.Columns, k)
			}
		}
	}
	for _, rec := range records {
		row := make([]any, len(t.Columns))
		for k, v := range rec {
			row[index[k]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Records returns the table as maps keyed by column name.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for j, c := range t.Columns {
			rec[c] = row[j]
		}
		out[i] = rec
	}
	return out
}

// without returns a copy of t with the columns at the given positions removed.
func (t *Table) without(drop map[int]struct{}) *Table {
	if len(drop) == 0 {
		return t
	}
	out := &Table{Rows: make([][]any, len(t.Rows))}
	for j, c := range t.Columns {
		if _, ok := drop[j]; !ok {
			out.Columns = append(out.Columns, c)
		}
	}
	for i, row := range t.Rows {
		nr := make([]any, 0, len(out.Columns))
		for j, v := range row {
			if _, ok := drop[j]; !ok {
				nr = append(nr, v)
			}
		}
		out.Rows[i] = nr
	}
	return out
}
