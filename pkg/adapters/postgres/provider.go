// Package postgres provides a PostgreSQL provider on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Params holds PostgreSQL specific options.
type Params struct {
	SSLMode    string `mapstructure:"sslmode"`
	SearchPath string `mapstructure:"search_path"`
}

// Factory opens PostgreSQL connections.
type Factory struct{}

// Register adds the PostgreSQL provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderPostgres }

// Description implements adapter.Factory.
func (Factory) Description() string { return "PostgreSQL (pgx)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

// ConnectionString implements adapter.Factory.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	var opts Params
	if err := adapter.DecodeOptions(p.Options, &opts); err != nil {
		return "", err
	}
	return buildPostgresDSN(p, opts), nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(p core.ConnectionParams, opts Params) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := p.Host
	if host == "" {
		host = "localhost"
	}

	port := p.Port
	if port == 0 {
		port = 5432
	}

	sslmode := opts.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, p.Database, sslmode)

	if p.User != "" {
		dsn += fmt.Sprintf(" user=%s", p.User)
	}
	if p.Password != "" {
		dsn += fmt.Sprintf(" password=%s", p.Password)
	}
	if p.Timeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", int(p.Timeout.Seconds()))
	}
	if p.AppName != "" {
		dsn += fmt.Sprintf(" application_name=%s", p.AppName)
	}
	if opts.SearchPath != "" {
		dsn += fmt.Sprintf(" search_path=%s", opts.SearchPath)
	}

	return dsn
}

// Open implements adapter.Factory. Batches run over the simple protocol so a
// batch may hold several statements.
func (f Factory) Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (adapter.Connection, error) {
	dsn, err := f.ConnectionString(p)
	if err != nil {
		return nil, err
	}
	logger.Debug("connecting to postgres", slog.String("host", p.Host), slog.String("database", p.Database))

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	c := &Connection{}
	cfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		c.Notify(c.noticeMessage(n))
	}

	db, err := adapter.PingDB(ctx, stdlib.OpenDB(*cfg))
	if err != nil {
		return nil, err
	}
	c.BaseSQLConnection = adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger}
	return c, nil
}

// Connection is an open PostgreSQL session.
type Connection struct {
	adapter.BaseSQLConnection

	// text of the batch in flight, used to turn character positions into lines
	current string
}

// Execute implements adapter.Connection.
func (c *Connection) Execute(ctx context.Context, cmd *adapter.Command) (adapter.ResultStream, error) {
	c.current = cmd.Text
	return c.BaseSQLConnection.Execute(ctx, cmd)
}

// MappedError converts *pgconn.PgError into a backend error.
func (c *Connection) MappedError(err error) *core.BackendError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	sev, ok := core.ParseSeverity(pgErr.SeverityUnlocalized)
	if !ok {
		sev = core.SeverityError
	}
	return &core.BackendError{
		Message: core.Message{
			Server:   c.Params.Host,
			Catalog:  c.Params.Database,
			Line:     adapter.LineAtOffset(c.current, int(pgErr.Position)),
			Severity: sev,
			Text:     fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code),
		},
		Err: err,
	}
}

func (c *Connection) noticeMessage(n *pgconn.Notice) core.Message {
	sev, _ := core.ParseSeverity(n.SeverityUnlocalized)
	if sev.IsError() {
		sev = core.SeverityWarning
	}
	return core.Message{
		Server:   c.Params.Host,
		Catalog:  c.Params.Database,
		Line:     adapter.LineAtOffset(c.current, int(n.Position)),
		Severity: sev,
		Text:     n.Message,
	}
}
