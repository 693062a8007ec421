package dataset

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// IDColumn is the store-assigned surrogate id present in every dataset.
	IDColumn = "table_id"
	// TimestampColumn holds the snapshot label of each row.
	TimestampColumn = "timestamp"
)

var datasetNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName checks that name can be used as a dataset (and index) identifier.
func ValidateName(name string) error {
	if !datasetNameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDataset, name)
	}
	return nil
}

// TableName returns the physical table that stores dataset.
func TableName(dataset string) string {
	return strings.ToUpper(dataset)
}

// IsReserved reports whether col is one of the columns the store manages.
func IsReserved(col string) bool {
	return strings.EqualFold(col, IDColumn) || strings.EqualFold(col, TimestampColumn)
}

type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeBoolean ColumnType = "boolean"
)

func ParseColumnType(s string) (ColumnType, error) {
	switch ct := ColumnType(strings.ToLower(strings.TrimSpace(s))); ct {
	case TypeText, TypeInteger, TypeReal, TypeBoolean:
		return ct, nil
	default:
		return "", fmt.Errorf("unknown column type %q", s)
	}
}

type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
	Position int        `json:"position"`
	AddedAt  time.Time  `json:"added_at"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Schema is the registry entry of a dataset: its physical table and the
// ordered column list, reserved columns first.
type Schema struct {
	Dataset   string    `json:"dataset"`
	Table     string    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
	Columns   []Column  `json:"columns"`
	Indexes   []Index   `json:"indexes,omitempty"`
}

// Column looks up a column by name, ignoring case.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// DataColumns returns the non-reserved columns in position order.
func (s *Schema) DataColumns() []Column {
	cols := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !IsReserved(c.Name) {
			cols = append(cols, c)
		}
	}
	return cols
}

// ResolveColumns maps names to their registered spelling, failing with
// ErrColumnNotFound for unknown names.
func (s *Schema) ResolveColumns(names []string) ([]Column, error) {
	out := make([]Column, 0, len(names))
	for _, n := range names {
		c, ok := s.Column(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrColumnNotFound, s.Dataset, n)
		}
		out = append(out, c)
	}
	return out, nil
}

func reservedColumns(now time.Time) []Column {
	return []Column{
		{Name: IDColumn, Type: TypeInteger, Nullable: false, Position: 0, AddedAt: now},
		{Name: TimestampColumn, Type: TypeText, Nullable: false, Position: 1, AddedAt: now},
	}
}
