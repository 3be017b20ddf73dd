// Package all wires every provider into a registry. Providers without a Go
// driver are registered as unsupported so they are listed but fail fast.
package all

import (
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/clickhouse"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/mysql"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/postgres"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/sqlite"
	"github.com/leapstack-labs/leapbatch/pkg/adapters/sqlserver"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Register adds all providers to reg.
func Register(reg *adapter.Registry) {
	sqlserver.Register(reg)
	sqlite.Register(reg)
	postgres.Register(reg)
	mysql.Register(reg)
	duckdb.Register(reg)
	clickhouse.Register(reg)

	reg.Register(adapter.UnsupportedFactory(core.ProviderSybase, "SAP ASE / Sybase (legacy, no driver)"))
	reg.Register(adapter.UnsupportedFactory(core.ProviderInformix, "IBM Informix (legacy, no driver)"))
	reg.Register(adapter.UnsupportedFactory(core.ProviderDB2, "IBM Db2 for z/OS (mainframe, no driver)"))
}

// NewRegistry returns a registry with every provider registered.
func NewRegistry() *adapter.Registry {
	reg := adapter.NewRegistry()
	Register(reg)
	return reg
}
