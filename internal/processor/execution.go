package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"github.com/leapstack-labs/leapbatch/internal/render"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// ExecutionConfig configures the Execution strategy.
type ExecutionConfig struct {
	Provider     core.ProviderID
	Params       core.ConnectionParams
	BreakOnError bool
	Render       render.Options
}

// Execution runs each batch against one lazily opened connection and traces
// result sets and backend messages.
type Execution struct {
	registry *adapter.Registry
	cfg      ExecutionConfig
	sink     trace.Sink
	logger   *slog.Logger

	conn      adapter.Connection
	cancelled atomic.Bool

	// guarded by mu: the message handler may run on a driver goroutine
	mu      sync.Mutex
	current *batch.Batch
	dedupe  adapter.Deduper
}

// NewExecution creates an Execution strategy. Connections are opened through
// registry.
func NewExecution(registry *adapter.Registry, cfg ExecutionConfig, sink trace.Sink, logger *slog.Logger) *Execution {
	if sink == nil {
		sink = trace.Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Execution{
		registry: registry,
		cfg:      cfg,
		sink:     sink,
		logger:   logger.With(slog.String("provider", string(cfg.Provider))),
	}
}

// Validate rejects a provider the registry does not know before anything is
// started.
func (e *Execution) Validate() error {
	if e.cfg.Provider == "" {
		return core.ConfigErrorf("provider not specified")
	}
	if !e.registry.IsRegistered(e.cfg.Provider) {
		return &adapter.UnknownProviderError{ID: e.cfg.Provider, Available: e.registry.IDs()}
	}
	return nil
}

// SignIn implements Processor. The connection is opened with the first batch.
func (e *Execution) SignIn(context.Context) error {
	e.logger.Debug("execution started")
	return nil
}

func (e *Execution) connect(ctx context.Context) (adapter.Connection, error) {
	if e.conn != nil {
		return e.conn, nil
	}
	conn, err := e.registry.Open(ctx, e.cfg.Provider, e.cfg.Params, e.logger)
	if err != nil {
		return nil, err
	}
	conn.SetMessageHandler(e.onMessage)
	e.conn = conn
	e.logger.Debug("connection opened",
		slog.String("host", e.cfg.Params.Host),
		slog.String("database", e.cfg.Params.Database))
	return conn, nil
}

// ProcessBatch implements Processor.
func (e *Execution) ProcessBatch(ctx context.Context, b *batch.Batch) error {
	conn, err := e.connect(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.current = b
	e.dedupe.Reset()
	e.mu.Unlock()

	start := time.Now()
	e.logger.Debug("executing batch",
		slog.Int("batch", b.Number),
		slog.String("at", b.Start().String()))

	// A cancelled run finishes the batch in flight.
	runCtx := context.WithoutCancel(ctx)
	rs, err := conn.Execute(runCtx, conn.CreateCommand(b.Text))
	if err != nil {
		return e.fail(conn, b, err)
	}
	defer rs.Close()

	for rs.NextResultSet() {
		set, err := render.Collect(rs)
		if err != nil {
			return e.fail(conn, b, err)
		}
		var buf bytes.Buffer
		if err := render.Write(&buf, set, e.cfg.Render); err != nil {
			return fmt.Errorf("failed to render result: %w", err)
		}
		e.sink.Trace(trace.Info(trace.SourceResult, trace.Normal, buf.String()))
	}
	if err := rs.Err(); err != nil {
		return e.fail(conn, b, err)
	}
	if n := rs.RowsAffected(); n >= 0 {
		e.sink.Trace(trace.Info(trace.SourceBackend, trace.Verbose, fmt.Sprintf("(%d rows affected)", n)))
	}

	e.logger.Debug("batch complete",
		slog.Int("batch", b.Number),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// fail turns a driver error into a traced BatchError.
func (e *Execution) fail(conn adapter.Connection, b *batch.Batch, err error) error {
	msg := core.Message{Severity: core.SeverityError, Text: err.Error()}
	if be := conn.MappedError(err); be != nil {
		msg = be.Message
		if !msg.Severity.IsError() {
			msg.Severity = core.SeverityError
		}
	}
	berr := &BatchError{
		Batch:    b.Number,
		Location: b.Translate(msg.Line),
		Message:  msg,
		Err:      err,
		Abort:    e.cfg.BreakOnError || msg.Severity >= core.SeverityFatal,
	}
	e.sink.Trace(trace.Error(trace.SourceBackend, berr.Error()))
	e.logger.Debug("batch failed", slog.Int("batch", b.Number), slog.Any("error", err))
	return berr
}

func (e *Execution) onMessage(m core.Message) {
	e.mu.Lock()
	b := e.current
	dup := e.dedupe.Seen(m)
	e.mu.Unlock()
	if dup {
		return
	}

	var loc core.Location
	if b != nil {
		loc = b.Translate(m.Line)
	}
	entry := trace.Entry{
		Source:   trace.SourceBackend,
		Severity: m.Severity,
		Level:    trace.Normal,
		Text:     FormatMessage(loc, m),
	}
	e.sink.Trace(entry)
}

// ProcessProgress implements Processor.
func (e *Execution) ProcessProgress(_ context.Context, _ *batch.Batch, text string) error {
	e.sink.Trace(trace.Info(trace.SourceRunner, trace.Verbose, text))
	return nil
}

// SignOut closes the connection if one was opened.
func (e *Execution) SignOut() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	if err != nil {
		return core.Classify(core.ExitConnection, fmt.Errorf("failed to close connection: %w", err))
	}
	e.logger.Debug("connection closed")
	return nil
}

// Cancel implements Processor.
func (e *Execution) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled implements Processor.
func (e *Execution) Cancelled() bool {
	return e.cancelled.Load()
}
