package collector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
)

func TestNetstate_Collector_Registry(t *testing.T) {
	t.Parallel()

	r := collector.NewRegistry()
	c := collector.Func(func(ctx context.Context) (*dataset.Table, error) {
		return dataset.NewTable("name"), nil
	})

	require.NoError(t, r.Register("devices", c))
	require.NoError(t, r.Register("links", c))
	require.Error(t, r.Register("devices", c))
	require.Error(t, r.Register("bad-name", c))
	require.Error(t, r.Register("ports", nil))

	require.Equal(t, []string{"devices", "links"}, r.Jobs())

	got, ok := r.Get("devices")
	require.True(t, ok)
	table, err := got.Collect(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, table.Columns)

	_, ok = r.Get("ports")
	require.False(t, ok)
}
