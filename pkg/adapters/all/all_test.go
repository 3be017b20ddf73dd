package all_test

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/all"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg := all.NewRegistry()

	assert.Equal(t, []core.ProviderID{
		core.ProviderClickHouse,
		core.ProviderDB2,
		core.ProviderDuckDB,
		core.ProviderInformix,
		core.ProviderMySQL,
		core.ProviderPostgres,
		core.ProviderSQLite,
		core.ProviderSQLServer,
		core.ProviderSybase,
	}, reg.IDs())
}

func TestSupported(t *testing.T) {
	reg := all.NewRegistry()
	tests := []struct {
		id        core.ProviderID
		supported bool
	}{
		{core.ProviderSQLServer, true},
		{core.ProviderSQLite, true},
		{core.ProviderSybase, false},
		{core.ProviderInformix, false},
		{core.ProviderDB2, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			f, ok := reg.Get(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.supported, f.Supported())
		})
	}
}

func TestOpenUnsupported(t *testing.T) {
	reg := all.NewRegistry()
	_, err := reg.Open(context.Background(), core.ProviderSybase, core.ConnectionParams{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrNotSupported)
	assert.Equal(t, core.ExitConfig, core.ClassOf(err))
}

func TestOpenSQLite(t *testing.T) {
	reg := all.NewRegistry()
	conn, err := reg.Open(context.Background(), core.ProviderSQLite, core.ConnectionParams{}, nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
