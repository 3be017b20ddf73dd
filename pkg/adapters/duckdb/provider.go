// Package duckdb provides an embedded DuckDB provider.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	"github.com/marcboeker/go-duckdb"
)

var lineRe = regexp.MustCompile(`LINE (\d+):`)

// Factory opens DuckDB databases.
type Factory struct{}

// Register adds the DuckDB provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderDuckDB }

// Description implements adapter.Factory.
func (Factory) Description() string { return "DuckDB, embedded (go-duckdb)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

// ConnectionString returns the database path. Use ":memory:" (or leave the
// database empty) for an in-memory database.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	if _, err := parseParams(p.Options); err != nil {
		return "", err
	}
	if p.Database == "" {
		return ":memory:", nil
	}
	return p.Database, nil
}

// Open implements adapter.Factory. Extensions, settings and secrets are
// applied to each new connection.
func (f Factory) Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (adapter.Connection, error) {
	path, err := f.ConnectionString(p)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(p.Options)
	if err != nil {
		return nil, err
	}
	logger.Debug("opening duckdb database", slog.String("path", path))

	stmts := params.initStatements()
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, stmt := range stmts {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("duckdb init %q: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	db, err := adapter.PingDB(ctx, sql.OpenDB(connector))
	if err != nil {
		return nil, err
	}
	return &Connection{
		BaseSQLConnection: adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger},
	}, nil
}

// Connection is an open DuckDB database.
type Connection struct {
	adapter.BaseSQLConnection
}

// MappedError converts *duckdb.Error into a backend error. Parser errors
// quote the offending line as "LINE n:".
func (c *Connection) MappedError(err error) *core.BackendError {
	var e *duckdb.Error
	if !errors.As(err, &e) {
		return nil
	}
	return &core.BackendError{
		Message: core.Message{
			Server:   "duckdb",
			Catalog:  c.Params.Database,
			Line:     adapter.LineFromMessage(lineRe, e.Msg),
			Number:   int(e.Type),
			Severity: core.SeverityError,
			Text:     e.Msg,
		},
		Err: err,
	}
}
