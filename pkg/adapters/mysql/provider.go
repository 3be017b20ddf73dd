// Package mysql provides a MySQL/MariaDB provider.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

var lineRe = regexp.MustCompile(`at line (\d+)`)

// Params holds MySQL specific options.
type Params struct {
	TLS       string `mapstructure:"tls"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
}

// Factory opens MySQL connections.
type Factory struct{}

// Register adds the MySQL provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderMySQL }

// Description implements adapter.Factory.
func (Factory) Description() string { return "MySQL / MariaDB (go-sql-driver)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

func driverConfig(p core.ConnectionParams) (*mysql.Config, error) {
	var opts Params
	if err := adapter.DecodeOptions(p.Options, &opts); err != nil {
		return nil, err
	}

	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.DBName = p.Database
	cfg.Timeout = p.Timeout
	cfg.MultiStatements = true
	cfg.ParseTime = opts.ParseTime
	cfg.TLSConfig = opts.TLS
	if opts.Charset != "" {
		cfg.Params = map[string]string{"charset": opts.Charset}
	}
	if p.AppName != "" {
		cfg.ConnectionAttributes = "program_name:" + p.AppName
	}
	return cfg, nil
}

// ConnectionString implements adapter.Factory.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	cfg, err := driverConfig(p)
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

// Open implements adapter.Factory. Multi statements are enabled so one batch
// may carry several statements.
func (Factory) Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (adapter.Connection, error) {
	cfg, err := driverConfig(p)
	if err != nil {
		return nil, err
	}
	logger.Debug("connecting to mysql", slog.String("addr", cfg.Addr), slog.String("database", p.Database))

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql configuration: %w", err)
	}
	db, err := adapter.PingDB(ctx, sql.OpenDB(connector))
	if err != nil {
		return nil, err
	}
	return &Connection{
		BaseSQLConnection: adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger},
	}, nil
}

// Connection is an open MySQL session.
type Connection struct {
	adapter.BaseSQLConnection
}

// MappedError converts *mysql.MySQLError into a backend error. Syntax errors
// carry the offending line in the message text.
func (c *Connection) MappedError(err error) *core.BackendError {
	var e *mysql.MySQLError
	if !errors.As(err, &e) {
		return nil
	}
	return &core.BackendError{
		Message: core.Message{
			Server:   c.Params.Host,
			Catalog:  c.Params.Database,
			Line:     adapter.LineFromMessage(lineRe, e.Message),
			Number:   int(e.Number),
			Severity: core.SeverityError,
			Text:     e.Message,
		},
		Err: err,
	}
}
