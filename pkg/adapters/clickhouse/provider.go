// Package clickhouse provides a ClickHouse provider over the native protocol.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

var lineRe = regexp.MustCompile(`\(line (\d+), col`)

// Params holds ClickHouse specific options.
type Params struct {
	Secure   bool   `mapstructure:"secure"`
	Compress string `mapstructure:"compress"`
	// Settings are sent with every query, e.g. max_execution_time
	Settings map[string]string `mapstructure:"settings"`
}

// Factory opens ClickHouse connections.
type Factory struct{}

// Register adds the ClickHouse provider to reg.
func Register(reg *adapter.Registry) {
	reg.Register(Factory{})
}

// ID implements adapter.Factory.
func (Factory) ID() core.ProviderID { return core.ProviderClickHouse }

// Description implements adapter.Factory.
func (Factory) Description() string { return "ClickHouse (clickhouse-go, native protocol)" }

// Supported implements adapter.Factory.
func (Factory) Supported() bool { return true }

// ConnectionString builds a clickhouse:// DSN understood by clickhouse.ParseDSN.
func (Factory) ConnectionString(p core.ConnectionParams) (string, error) {
	var opts Params
	if err := adapter.DecodeOptions(p.Options, &opts); err != nil {
		return "", err
	}

	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = 9000
	}
	u := &url.URL{
		Scheme: "clickhouse",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}

	q := url.Values{}
	if p.Timeout > 0 {
		q.Set("dial_timeout", p.Timeout.String())
	}
	if opts.Secure {
		q.Set("secure", "true")
	}
	if opts.Compress != "" {
		q.Set("compress", opts.Compress)
	}
	names := make([]string, 0, len(opts.Settings))
	for name := range opts.Settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q.Set(name, opts.Settings[name])
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
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse connection string: %w", err)
	}
	if p.AppName != "" {
		opts.ClientInfo.Products = append(opts.ClientInfo.Products, struct {
			Name    string
			Version string
		}{Name: p.AppName})
	}
	logger.Debug("connecting to clickhouse", slog.Any("addr", opts.Addr), slog.String("database", opts.Auth.Database))

	db, err := adapter.PingDB(ctx, clickhouse.OpenDB(opts))
	if err != nil {
		return nil, err
	}
	return &Connection{
		BaseSQLConnection: adapter.BaseSQLConnection{DB: db, Params: p, Logger: logger},
	}, nil
}

// Connection is an open ClickHouse session.
type Connection struct {
	adapter.BaseSQLConnection
}

// MappedError converts *clickhouse.Exception into a backend error.
func (c *Connection) MappedError(err error) *core.BackendError {
	var e *clickhouse.Exception
	if !errors.As(err, &e) {
		return nil
	}
	return &core.BackendError{
		Message: core.Message{
			Server:   c.Params.Host,
			Catalog:  c.Params.Database,
			Line:     adapter.LineFromMessage(lineRe, e.Message),
			Number:   int(e.Code),
			Severity: core.SeverityError,
			Text:     fmt.Sprintf("%s: %s", e.Name, e.Message),
		},
		Err: err,
	}
}
