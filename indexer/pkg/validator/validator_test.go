package validator_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
	nstesting "github.com/malbeclabs/netstate/utils/pkg/testing"
)

var (
	ts1 = dataset.MustParseTimestamp("2024-03-05_1400")
	ts2 = dataset.MustParseTimestamp("2024-03-05_1500")
	ts3 = dataset.MustParseTimestamp("2024-03-06_0900")
)

var statusRule = validator.Rule{
	Dataset:           "devices",
	IdentifierColumns: []string{"name"},
	ContextColumns:    []string{"description"},
	ValidationColumn:  "status",
}

func newValidator(t *testing.T) (*validator.Validator, *dataset.Store) {
	t.Helper()
	store := nstesting.NewSQLiteStore(t)
	v, err := validator.New(validator.Config{Logger: nstesting.NewLogger(), Store: store})
	require.NoError(t, err)
	return v, store
}

func ingest(t *testing.T, store *dataset.Store, name string, ts dataset.Timestamp, columns []string, rows ...[]any) {
	t.Helper()
	table := dataset.NewTable(columns...)
	for _, r := range rows {
		require.NoError(t, table.Append(r...))
	}
	_, err := store.Ingest(t.Context(), name, table, ts, nil)
	require.NoError(t, err)
}

var deviceColumns = []string{"name", "status", "description"}

func TestNetstate_Validator_New(t *testing.T) {
	t.Parallel()

	_, err := validator.New(validator.Config{})
	require.Error(t, err)
	_, err = validator.New(validator.Config{Logger: nstesting.NewLogger()})
	require.Error(t, err)
}

func TestNetstate_Validator_DetectsTransition(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns,
		[]any{"dev1", "online", "core"},
		[]any{"dev2", "online", "edge"},
	)
	ingest(t, store, "devices", ts3, deviceColumns,
		[]any{"dev1", "offline", "core"},
		[]any{"dev2", "online", "edge"},
	)

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, map[string]any{"name": "dev1"}, rec.Identifiers)
	require.Equal(t, map[string]any{"description": "core"}, rec.Context)
	require.Equal(t, "status", rec.Column)
	require.Equal(t, "online", rec.Original)
	require.Equal(t, "offline", rec.New)
	require.Equal(t, ts1, rec.First)
	require.Equal(t, ts3, rec.Last)

	require.Equal(t, map[string]any{
		"name":            "dev1",
		"description":     "core",
		"original_status": "online",
		"new_status":      "offline",
	}, rec.Fields())

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"dev1","description":"core","original_status":"online","new_status":"offline"}`, string(b))
}

func TestNetstate_Validator_ContextOnlyChangeIsIgnored(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts2, deviceColumns, []any{"dev1", "online", "edge"})

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNetstate_Validator_SingleSnapshotIsIgnored(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts2, deviceColumns, []any{"dev2", "offline", "core"})

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNetstate_Validator_IntermediateSnapshotsAreNotCompared(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts2, deviceColumns, []any{"dev1", "offline", "core"})
	ingest(t, store, "devices", ts3, deviceColumns, []any{"dev1", "online", "core"})

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNetstate_Validator_FromValueFilter(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns,
		[]any{"dev1", "online", "core"},
		[]any{"dev2", "offline", "core"},
	)
	ingest(t, store, "devices", ts2, deviceColumns,
		[]any{"dev1", "offline", "core"},
		[]any{"dev2", "online", "core"},
	)

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "dev1", records[0].Identifiers["name"])
	require.Equal(t, "dev2", records[1].Identifiers["name"])

	rule := statusRule
	rule.FromValue = "online"
	records, err = v.Validate(t.Context(), rule)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "dev1", records[0].Identifiers["name"])
	require.Equal(t, "offline", records[0].New)
}

func TestNetstate_Validator_FromValueMatchesColumnType(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	columns := []string{"name", "oper", "up"}
	ingest(t, store, "interfaces", ts1, columns, []any{"eth0", int64(1), true})
	ingest(t, store, "interfaces", ts2, columns, []any{"eth0", int64(2), false})

	tests := []struct {
		column string
		from   any
		want   int
	}{
		{"oper", "1", 1},
		{"oper", 1, 1},
		{"oper", "2", 0},
		{"up", "true", 1},
		{"up", true, 1},
		{"up", "false", 0},
	}
	for _, tt := range tests {
		rule := validator.Rule{
			Dataset:           "interfaces",
			IdentifierColumns: []string{"name"},
			ValidationColumn:  tt.column,
			FromValue:         tt.from,
		}
		records, err := v.Validate(t.Context(), rule)
		require.NoError(t, err, "%s from %v", tt.column, tt.from)
		require.Len(t, records, tt.want, "%s from %v", tt.column, tt.from)
	}

	_, err := v.Validate(t.Context(), validator.Rule{
		Dataset:           "interfaces",
		IdentifierColumns: []string{"name"},
		ValidationColumn:  "oper",
		FromValue:         "up",
	})
	require.ErrorIs(t, err, dataset.ErrInvalidValue)
}

func TestNetstate_Validator_NullValues(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns,
		[]any{"dev1", nil, "core"},
		[]any{"dev2", nil, "core"},
	)
	ingest(t, store, "devices", ts2, deviceColumns,
		[]any{"dev1", "online", "core"},
		[]any{"dev2", nil, "core"},
	)

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "dev1", records[0].Identifiers["name"])
	require.Nil(t, records[0].Original)
	require.Equal(t, "online", records[0].New)
}

func TestNetstate_Validator_CompositeIdentifier(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	columns := []string{"device", "pool", "member", "state"}
	ingest(t, store, "members", ts1, columns,
		[]any{"lb1", "web", "10.0.0.1", "available"},
		[]any{"lb1", "web", "10.0.0.2", "available"},
		[]any{"lb2", "web", "10.0.0.1", "available"},
	)
	ingest(t, store, "members", ts2, columns,
		[]any{"lb1", "web", "10.0.0.1", "available"},
		[]any{"lb1", "web", "10.0.0.2", "offline"},
		[]any{"lb2", "web", "10.0.0.1", "available"},
	)

	records, err := v.Validate(t.Context(), validator.Rule{
		Dataset:           "members",
		IdentifierColumns: []string{"device", "pool", "member"},
		ValidationColumn:  "state",
		FromValue:         "available",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, map[string]any{"device": "lb1", "pool": "web", "member": "10.0.0.2"}, records[0].Identifiers)
	require.Empty(t, records[0].Context)
}

func TestNetstate_Validator_TimestampSource(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts2, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts3, deviceColumns, []any{"dev1", "offline", "core"})
	ingest(t, store, "inventory", ts1, []string{"name"}, []any{"dev1"})
	ingest(t, store, "inventory", ts2, []string{"name"}, []any{"dev1"})

	records, err := v.Validate(t.Context(), statusRule)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rule := statusRule
	rule.TimestampSource = "inventory"
	records, err = v.Validate(t.Context(), rule)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNetstate_Validator_Errors(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	_, err := v.Validate(t.Context(), statusRule)
	require.ErrorIs(t, err, dataset.ErrDatasetNotFound)

	ingest(t, store, "devices", ts1, []string{"name", "status"}, []any{"dev1", "online"})
	_, err = v.Validate(t.Context(), statusRule)
	require.ErrorIs(t, err, dataset.ErrColumnNotFound)

	_, err = v.Validate(t.Context(), validator.Rule{Dataset: "devices", ValidationColumn: "status"})
	require.Error(t, err)
}

func TestNetstate_Validator_ValidateAll(t *testing.T) {
	t.Parallel()
	v, store := newValidator(t)

	ingest(t, store, "devices", ts1, deviceColumns, []any{"dev1", "online", "core"})
	ingest(t, store, "devices", ts2, deviceColumns, []any{"dev1", "offline", "core"})

	missing := validator.Rule{Dataset: "links", IdentifierColumns: []string{"id"}, ValidationColumn: "state"}
	results, err := v.ValidateAll(t.Context(), []validator.Rule{missing, statusRule})
	require.ErrorIs(t, err, dataset.ErrDatasetNotFound)
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, dataset.ErrDatasetNotFound)
	require.NoError(t, results[1].Err)
	require.Len(t, results[1].Records, 1)
}
