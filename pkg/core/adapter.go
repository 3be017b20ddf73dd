package core

import "time"

// ProviderID identifies a database backend in the provider registry.
type ProviderID string

// Providers known to leapbatch.
const (
	// ProviderSQLServer is the primary relational engine.
	ProviderSQLServer ProviderID = "sqlserver"
	// ProviderSQLite is the embedded engine.
	ProviderSQLite ProviderID = "sqlite"
	// ProviderSybase and ProviderInformix are the legacy engines.
	ProviderSybase   ProviderID = "sybase"
	ProviderInformix ProviderID = "informix"
	// ProviderDB2 is the mainframe engine.
	ProviderDB2 ProviderID = "db2"

	ProviderPostgres   ProviderID = "postgres"
	ProviderMySQL      ProviderID = "mysql"
	ProviderDuckDB     ProviderID = "duckdb"
	ProviderClickHouse ProviderID = "clickhouse"
)

// ConnectionParams holds everything a provider needs to build its connection string.
type ConnectionParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// IntegratedAuth uses the operating system identity instead of User/Password.
	IntegratedAuth bool
	// Timeout bounds connection establishment.
	Timeout        time.Duration
	// CommandTimeout bounds each batch. Zero waits indefinitely.
	CommandTimeout time.Duration
	AppName        string
	// Options contains provider-specific settings decoded by each provider.
	Options map[string]any
}
