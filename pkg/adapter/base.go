package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// BaseSQLConnection provides common database/sql functionality for providers.
// Embed it in concrete connections to get CreateCommand, Execute, Close and
// message dispatch; providers override Execute when their driver surfaces
// informational messages out of band.
type BaseSQLConnection struct {
	DB     *sql.DB
	Params core.ConnectionParams
	Logger *slog.Logger

	mu      sync.Mutex
	handler MessageHandler
}

// CreateCommand wraps text in a Command carrying the command timeout.
func (b *BaseSQLConnection) CreateCommand(text string) *Command {
	return &Command{Text: text, Timeout: b.Params.CommandTimeout}
}

// Execute runs cmd and returns its result sets.
func (b *BaseSQLConnection) Execute(ctx context.Context, cmd *Command) (ResultStream, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	ctx, cancel := CommandContext(ctx, cmd)
	//nolint:rowserrcheck // rows.Err() is surfaced through ResultStream.Err
	rows, err := b.DB.QueryContext(ctx, cmd.Text)
	if err != nil {
		cancel()
		return nil, err
	}
	return NewRowsStream(rows, cancel), nil
}

// MappedError returns nil; providers with structured driver errors override it.
func (b *BaseSQLConnection) MappedError(error) *core.BackendError {
	return nil
}

// SetMessageHandler registers h for informational messages. A nil h drops them.
func (b *BaseSQLConnection) SetMessageHandler(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Notify forwards msg to the registered handler, if any.
func (b *BaseSQLConnection) Notify(msg core.Message) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

// Close closes the database connection.
func (b *BaseSQLConnection) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLConnection) IsConnected() bool {
	return b.DB != nil
}

// CommandContext derives the context a command runs under. A zero timeout
// means the command may run indefinitely.
func CommandContext(ctx context.Context, cmd *Command) (context.Context, context.CancelFunc) {
	if cmd == nil || cmd.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cmd.Timeout)
}

// OpenDB opens a database/sql handle and verifies it with a ping. The handle
// is limited to a single connection so session state (SET options, temp
// tables) survives between batches.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	return PingDB(ctx, db)
}

// PingDB pins db to a single connection and pings it, closing db on failure.
func PingDB(ctx context.Context, db *sql.DB) (*sql.DB, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
