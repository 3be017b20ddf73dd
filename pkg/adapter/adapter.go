// Package adapter defines the provider-neutral connection contract used by the
// batch processors, plus the shared database/sql plumbing providers embed.
package adapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Command is a single batch prepared for execution on a Connection.
type Command struct {
	Text    string
	Timeout time.Duration
}

// ResultStream iterates over the result sets produced by one Command.
//
// Callers loop with NextResultSet, then Next/Values within each set:
//
//	for rs.NextResultSet() {
//		cols := rs.Columns()
//		for rs.Next() {
//			vals, err := rs.Values()
//		}
//	}
//	err := rs.Err()
type ResultStream interface {
	// NextResultSet advances to the next result set that carries columns.
	NextResultSet() bool
	Columns() []string
	Next() bool
	Values() ([]any, error)
	// RowsAffected is the total of row counts reported by the backend so far,
	// or -1 if the provider does not report them.
	RowsAffected() int64
	Err() error
	Close() error
}

// MessageHandler receives informational messages (PRINT output, notices)
// emitted by the backend while a command runs.
type MessageHandler func(core.Message)

// Connection is an open session against one backend.
type Connection interface {
	CreateCommand(text string) *Command
	Execute(ctx context.Context, cmd *Command) (ResultStream, error)
	// MappedError converts a driver error into a structured backend error.
	// It returns nil when err did not originate from the backend.
	MappedError(err error) *core.BackendError
	SetMessageHandler(h MessageHandler)
	Close() error
}

// Factory opens connections for one provider.
type Factory interface {
	ID() core.ProviderID
	Description() string
	Supported() bool
	ConnectionString(p core.ConnectionParams) (string, error)
	Open(ctx context.Context, p core.ConnectionParams, logger *slog.Logger) (Connection, error)
}
