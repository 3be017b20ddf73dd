// Package sqlite provides the embedded SQLite provider (modernc.org/sqlite,
// no cgo).
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	"modernc.org/sqlite"
)

// Params holds SQLite specific options.
type Params struct {
	// Pragmas applied on every new connection, e.g. journal_mode: wal
	Pragmas map[string]string `mapstructure:"pragmas"`
	// ReadOnly opens the database file with mode=ro.
	ReadOnly bool `mapstructure:"read_only"`
}

// Factory opens SQLite connections.
type Factory struct{}

// Register adds the SQLite provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderSQLite }

// Description implements adapter.Factory.
func (Factory) Description() string { return "SQLite, embedded (modernc.org/sqlite)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

// ConnectionString builds a file: URI. Database is the file path; an empty
// database opens a private in-memory database.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	var opts Params
	if err := adapter.DecodeOptions(p.Options, &opts); err != nil {
		return "", err
	}

	path := p.Database
	if path == "" {
		path = ":memory:"
	}

	q := url.Values{}
	if p.Timeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.Timeout.Milliseconds()))
	}
	names := make([]string, 0, len(opts.Pragmas))
	for name := range opts.Pragmas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q.Add("_pragma", fmt.Sprintf("%s(%s)", name, opts.Pragmas[name]))
	}
	if opts.ReadOnly {
		q.Set("mode", "ro")
	}

	dsn := "file:" + path
	if len(q) > 0 {
		dsn += "?" + q.Encode()
	}
	return dsn, nil
}

// Open implements adapter.Factory.
func (f Factory) Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (adapter.Connection, error) {
	dsn, err := f.ConnectionString(p)
	if err != nil {
		return nil, err
	}
	logger.Debug("opening sqlite database", slog.String("path", p.Database))

	db, err := adapter.OpenDB(ctx, "sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Connection{
		BaseSQLConnection: adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger},
	}, nil
}

// Connection is an open SQLite database.
type Connection struct {
	adapter.BaseSQLConnection
}

// MappedError converts *sqlite.Error into a backend error. SQLite reports
// neither line numbers nor states; the extended result code becomes the
// message number.
func (c *Connection) MappedError(err error) *core.BackendError {
	var e *sqlite.Error
	if !errors.As(err, &e) {
		return nil
	}
	return &core.BackendError{
		Message: core.Message{
			Server:   "sqlite",
			Catalog:  c.Params.Database,
			Number:   e.Code(),
			Severity: core.SeverityError,
			Text:     e.Error(),
		},
		Err: err,
	}
}
