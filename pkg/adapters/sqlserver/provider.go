// Package sqlserver provides the Microsoft SQL Server provider, the primary
// relational engine for leapbatch.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/golang-sql/sqlexp"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	mssql "github.com/microsoft/go-mssqldb"
)

const defaultPort = 1433

// Params holds SQL Server specific options.
// Parsed from core.ConnectionParams.Options using mapstructure.
type Params struct {
	// Instance is a named instance; when set the port is resolved by the browser service.
	Instance string `mapstructure:"instance"`
	// Encrypt: "disable", "false", "true" or "strict"
	Encrypt                string `mapstructure:"encrypt"`
	TrustServerCertificate bool   `mapstructure:"trust_server_certificate"`
	PacketSize             int    `mapstructure:"packet_size"`
}

// Factory opens SQL Server connections.
type Factory struct{}

// Register adds the SQL Server provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderSQLServer }

// Description implements adapter.Factory.
func (Factory) Description() string { return "Microsoft SQL Server (go-mssqldb)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

// ConnectionString builds a sqlserver:// URL. Integrated authentication
// leaves the credentials out so the driver falls back to the OS identity.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	var opts Params
	if err := adapter.DecodeOptions(p.Options, &opts); err != nil {
		return "", err
	}

	host := p.Host
	if host == "" {
		host = "localhost"
	}
	u := &url.URL{Scheme: "sqlserver", Host: host}
	if opts.Instance != "" {
		u.Path = opts.Instance
	} else {
		port := p.Port
		if port == 0 {
			port = defaultPort
		}
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if !p.IntegratedAuth {
		if p.User == "" {
			return "", fmt.Errorf("sqlserver: user is required unless integrated authentication is enabled")
		}
		u.User = url.UserPassword(p.User, p.Password)
	}

	q := url.Values{}
	if p.Database != "" {
		q.Set("database", p.Database)
	}
	if p.AppName != "" {
		q.Set("app name", p.AppName)
	}
	if p.Timeout > 0 {
		q.Set("dial timeout", strconv.Itoa(int(p.Timeout.Seconds())))
	}
	if opts.Encrypt != "" {
		q.Set("encrypt", opts.Encrypt)
	}
	if opts.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if opts.PacketSize > 0 {
		q.Set("packet size", strconv.Itoa(opts.PacketSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open implements adapter.Factory.
func (f Factory) Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (adapter.Connection, error) {
	dsn, err := f.ConnectionString(p)
	if err != nil {
		return nil, err
	}
	logger.Debug("connecting to sqlserver", slog.String("host", p.Host), slog.String("database", p.Database))

	connector, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlserver connection string: %w", err)
	}
	db, err := adapter.PingDB(ctx, sql.OpenDB(connector))
	if err != nil {
		return nil, err
	}
	return &Connection{
		BaseSQLConnection: adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger},
	}, nil
}

// Connection is an open SQL Server session.
type Connection struct {
	adapter.BaseSQLConnection
}

// Execute runs cmd with a message channel attached so PRINT output, row
// counts and errors arrive in the order the server sent them.
func (c *Connection) Execute(ctx context.Context, cmd *adapter.Command) (adapter.ResultStream, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	ctx, cancel := adapter.CommandContext(ctx, cmd)
	retmsg := &sqlexp.ReturnMessage{}
	//nolint:rowserrcheck // surfaced through ResultStream.Err
	rows, err := c.DB.QueryContext(ctx, cmd.Text, retmsg)
	if err != nil {
		cancel()
		return nil, err
	}
	return &messageStream{
		ctx:      ctx,
		cancel:   cancel,
		rows:     rows,
		msgs:     retmsg,
		notify:   c.Notify,
		affected: -1,
	}, nil
}

// MappedError converts mssql.Error into a backend error.
func (c *Connection) MappedError(err error) *core.BackendError {
	var e mssql.Error
	if !errors.As(err, &e) {
		return nil
	}
	return &core.BackendError{Message: messageFromError(e), Err: err}
}

func messageFromError(e mssql.Error) core.Message {
	return core.Message{
		Server:    e.ServerName,
		Procedure: e.ProcName,
		Line:      int(e.LineNo),
		Number:    int(e.Number),
		State:     int(e.State),
		Severity:  core.Severity(e.Class),
		Text:      e.Message,
	}
}
