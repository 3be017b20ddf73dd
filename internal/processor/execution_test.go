package processor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"github.com/leapstack-labs/leapbatch/internal/render"
	"github.com/leapstack-labs/leapbatch/internal/scanner"
	"github.com/leapstack-labs/leapbatch/internal/testutil"
	"github.com/leapstack-labs/leapbatch/internal/trace"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

const mockProvider core.ProviderID = "mock"

// syntaxError stands in for a structured driver error.
type syntaxError struct {
	line int
	text string
}

func (e *syntaxError) Error() string { return e.text }

type mockConn struct {
	*adapter.BaseSQLConnection
}

func (c *mockConn) MappedError(err error) *core.BackendError {
	var se *syntaxError
	if !errors.As(err, &se) {
		return nil
	}
	return &core.BackendError{
		Message: core.Message{Server: "mock", Line: se.line, Severity: core.SeverityError, Text: se.text},
		Err:     err,
	}
}

type mockFactory struct {
	conn    adapter.Connection
	openErr error
	opened  int
}

func (f *mockFactory) ID() core.ProviderID  { return mockProvider }
func (f *mockFactory) Description() string { return "mock" }
func (f *mockFactory) Supported() bool     { return true }
func (f *mockFactory) ConnectionString(core.ConnectionParams) (string, error) {
	return "mock://", nil
}
func (f *mockFactory) Open(context.Context, core.ConnectionParams, *slog.Logger) (adapter.Connection, error) {
	f.opened++
	return f.conn, f.openErr
}

func setupExecution(t *testing.T, cfg ExecutionConfig) (*Execution, sqlmock.Sqlmock, *mockConn, *trace.Recorder, *mockFactory) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	conn := &mockConn{BaseSQLConnection: &adapter.BaseSQLConnection{DB: db}}
	factory := &mockFactory{conn: conn}
	reg := adapter.NewRegistry()
	reg.Register(factory)

	cfg.Provider = mockProvider
	rec := &trace.Recorder{}
	return NewExecution(reg, cfg, rec, testutil.NewTestLogger(t)), mock, conn, rec, factory
}

// scanOne splits text and returns its first batch.
func scanOne(t *testing.T, text string) *batch.Batch {
	t.Helper()
	b, err := scanner.New(strings.NewReader(text), "script.sql").Next()
	require.NoError(t, err)
	return b
}

func TestExecution_ResultSets(t *testing.T) {
	exec, mock, _, rec, factory := setupExecution(t, ExecutionConfig{Render: render.Options{ColumnWidth: 20}})
	ctx := t.Context()

	mock.ExpectQuery("select id, name from t\n").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "alpha").AddRow(2, nil))
	mock.ExpectQuery("select 2\n").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	mock.ExpectClose()

	require.NoError(t, exec.SignIn(ctx))
	require.NoError(t, exec.ProcessBatch(ctx, scanOne(t, "select id, name from t\ngo\n")))
	require.NoError(t, exec.ProcessBatch(ctx, scanOne(t, "select 2\n")))
	require.NoError(t, exec.SignOut())

	assert.Equal(t, 1, factory.opened, "connection is opened once and reused")
	results := rec.Texts(trace.SourceResult)
	require.Len(t, results, 2)
	assert.Contains(t, results[0], "alpha")
	assert.Contains(t, results[0], "NULL")
	assert.Contains(t, results[0], "(2 rows)")
	assert.Contains(t, results[1], "(1 row)")
	assert.Empty(t, rec.Errors())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecution_BatchErrors(t *testing.T) {
	script := "#line 10 \"foo.sql\"\nbad statement\ngo\n"

	tests := []struct {
		name         string
		err          error
		breakOnError bool
		wantText     string
		wantAbort    bool
	}{
		{
			name:     "mapped error is translated to the source line",
			err:      &syntaxError{line: 2, text: "Incorrect syntax near 'statement'"},
			wantText: "foo.sql(11): Error: Incorrect syntax near 'statement'",
		},
		{
			name:     "unattributed line is clamped to the batch start",
			err:      &syntaxError{line: 0, text: "deadlock victim"},
			wantText: "foo.sql(10): Error: deadlock victim",
		},
		{
			name:     "unmapped driver error",
			err:      errors.New("driver: bad connection"),
			wantText: "foo.sql(10): Error: driver: bad connection",
		},
		{
			name:         "break on error aborts",
			err:          &syntaxError{line: 1, text: "Invalid object name 'x'"},
			breakOnError: true,
			wantText:     "foo.sql(10): Error: Invalid object name 'x'",
			wantAbort:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, mock, _, rec, _ := setupExecution(t, ExecutionConfig{BreakOnError: tt.breakOnError})
			mock.ExpectQuery("bad statement\n").WillReturnError(tt.err)

			err := exec.ProcessBatch(t.Context(), scanOne(t, script))
			require.Error(t, err)

			var be *BatchError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantText, be.Error())
			assert.Equal(t, tt.wantAbort, be.Abort)
			assert.Equal(t, tt.wantAbort, Fatal(err))
			assert.Equal(t, core.ExitCommand, core.ClassOf(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, []string{tt.wantText}, rec.Errors())
		})
	}
}

func TestExecution_Messages(t *testing.T) {
	exec, mock, conn, rec, _ := setupExecution(t, ExecutionConfig{})
	mock.ExpectQuery("print 'hi'\nselect 1/0\n").WillReturnRows(sqlmock.NewRows(nil))

	b := scanOne(t, "#line 5 \"inc/util.sql\"\nprint 'hi'\nselect 1/0\ngo\n")
	require.NoError(t, exec.ProcessBatch(t.Context(), b))

	info := core.Message{Severity: core.SeverityInfo, Text: "hi", Line: 1}
	warning := core.Message{Severity: core.SeverityWarning, Text: "Division by zero", Line: 2, Procedure: "calc"}
	conn.Notify(info)
	conn.Notify(warning)
	conn.Notify(warning)

	assert.Equal(t, []string{
		"hi",
		"inc/util.sql(6): Warning: Division by zero (procedure calc)",
	}, rec.Texts(trace.SourceBackend))

	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, core.SeverityWarning, entries[1].Severity)
}

func TestExecution_DedupeResetsPerBatch(t *testing.T) {
	exec, mock, conn, rec, _ := setupExecution(t, ExecutionConfig{})
	mock.ExpectQuery("select 1\n").WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectQuery("select 2\n").WillReturnRows(sqlmock.NewRows(nil))

	msg := core.Message{Text: "changed database context to 'app'"}
	require.NoError(t, exec.ProcessBatch(t.Context(), scanOne(t, "select 1\n")))
	conn.Notify(msg)
	require.NoError(t, exec.ProcessBatch(t.Context(), scanOne(t, "select 2\n")))
	conn.Notify(msg)

	assert.Len(t, rec.Texts(trace.SourceBackend), 2)
}

func TestExecution_OpenFailure(t *testing.T) {
	exec, _, _, _, factory := setupExecution(t, ExecutionConfig{})
	factory.openErr = errors.New("login failed for user 'sa'")

	err := exec.ProcessBatch(t.Context(), scanOne(t, "select 1\n"))
	require.Error(t, err)
	assert.Equal(t, core.ExitConnection, core.ClassOf(err))
	assert.True(t, Fatal(err))
	assert.NoError(t, exec.SignOut(), "nothing to close")
}

func TestExecution_Validate(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register(&mockFactory{})

	assert.NoError(t, NewExecution(reg, ExecutionConfig{Provider: mockProvider}, nil, nil).Validate())

	err := NewExecution(reg, ExecutionConfig{Provider: "oracle"}, nil, nil).Validate()
	var upe *adapter.UnknownProviderError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, core.ExitConfig, core.ClassOf(err))

	err = NewExecution(reg, ExecutionConfig{}, nil, nil).Validate()
	assert.Equal(t, core.ExitConfig, core.ClassOf(err))
}

func TestExecution_ProgressAndCancel(t *testing.T) {
	exec, _, _, rec, _ := setupExecution(t, ExecutionConfig{})

	require.NoError(t, exec.ProcessProgress(t.Context(), nil, "Executing batch 1"))
	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, trace.Verbose, entries[0].Level)

	assert.False(t, exec.Cancelled())
	exec.Cancel()
	exec.Cancel()
	assert.True(t, exec.Cancelled())
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(nil))
	assert.True(t, Fatal(errors.New("boom")))
	assert.False(t, Fatal(&BatchError{}))
	assert.True(t, Fatal(&BatchError{Abort: true}))
}

func TestFormatMessage(t *testing.T) {
	loc := core.Location{File: "a.sql", Line: 3}
	tests := []struct {
		name string
		msg  core.Message
		want string
	}{
		{name: "info is plain", msg: core.Message{Text: "done"}, want: "done"},
		{name: "warning", msg: core.Message{Severity: core.SeverityWarning, Text: "null eliminated"}, want: "a.sql(3): Warning: null eliminated"},
		{
			name: "numbered error",
			msg:  core.Message{Severity: 16, Number: 208, State: 1, Text: "Invalid object name 'x'."},
			want: "a.sql(3): Error: Msg 208, Level 16, State 1: Invalid object name 'x'.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMessage(loc, tt.msg))
		})
	}
}
