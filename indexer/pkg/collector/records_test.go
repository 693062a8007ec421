package collector_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
)

func TestNetstate_Collector_ColumnName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"name":          "name",
		" Pool Member ": "Pool_Member",
		`"orgId"`:       "orgId",
		"in-octets/sec": "in_octets_sec",
		"1st":           "_1st",
		"%%":            "_",
		"snake_case":    "snake_case",
	}
	for in, want := range tests {
		require.Equal(t, want, collector.ColumnName(in), in)
	}
}

func TestNetstate_Collector_ParseValue(t *testing.T) {
	t.Parallel()

	require.Nil(t, collector.ParseValue("  "))
	require.Equal(t, int64(42), collector.ParseValue("42"))
	require.Equal(t, 1.5, collector.ParseValue(" 1.5 "))
	require.Equal(t, true, collector.ParseValue("TRUE"))
	require.Equal(t, false, collector.ParseValue("false"))
	require.Equal(t, "online", collector.ParseValue("online"))
}

func TestNetstate_Collector_DecodeRecords(t *testing.T) {
	t.Parallel()

	t.Run("array", func(t *testing.T) {
		t.Parallel()
		recs, err := collector.DecodeRecords(strings.NewReader(`[{"serial":"Q2","port count":48},{"serial":"Q3"}]`), "")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		require.Equal(t, "Q2", recs[0]["serial"])
		require.Equal(t, json.Number("48"), recs[0]["port_count"])
	})

	t.Run("nested path", func(t *testing.T) {
		t.Parallel()
		recs, err := collector.DecodeRecords(strings.NewReader(`{"data":{"items":[{"id":1}]}}`), "data.items")
		require.NoError(t, err)
		require.Equal(t, []map[string]any{{"id": json.Number("1")}}, recs)
	})

	t.Run("single object", func(t *testing.T) {
		t.Parallel()
		recs, err := collector.DecodeRecords(strings.NewReader(`{"id":"a"}`), "")
		require.NoError(t, err)
		require.Len(t, recs, 1)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		_, err := collector.DecodeRecords(strings.NewReader(`{"data":[]}`), "items")
		require.Error(t, err)
		_, err = collector.DecodeRecords(strings.NewReader(`[1,2]`), "")
		require.Error(t, err)
		_, err = collector.DecodeRecords(strings.NewReader(`"text"`), "")
		require.Error(t, err)
		_, err = collector.DecodeRecords(strings.NewReader(`{`), "")
		require.Error(t, err)
	})
}
