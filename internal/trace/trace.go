// Package trace carries user-facing run output: batch errors, backend
// messages, preprocessor output, progress and rendered results. It is
// separate from diagnostic logging, which goes through slog.
package trace

import "github.com/leapstack-labs/leapbatch/pkg/core"

// Verbosity levels.
const (
	Quiet       = 0 // errors only
	Normal      = 1 // plus warnings, backend messages and result sets
	Verbose     = 2 // plus progress and preprocessor output
	VeryVerbose = 3 // plus per-line diagnostics
)

// Source identifies where an entry came from.
type Source string

// Entry sources.
const (
	SourceRunner       Source = "runner"
	SourceBackend      Source = "backend"
	SourcePreprocessor Source = "preprocessor"
	SourceResult       Source = "result"
)

// Entry is one unit of trace output.
type Entry struct {
	Source   Source
	Severity core.Severity
	// Level is the minimum verbosity at which the entry is shown. Errors are
	// always shown.
	Level int
	Text  string
}

// Visible reports whether e is shown at verbosity v.
func (e Entry) Visible(v int) bool {
	return e.Severity.IsError() || e.Level <= v
}

// Sink receives trace entries. Implementations must be safe for concurrent
// use: preprocessor output arrives from background goroutines.
type Sink interface {
	Trace(e Entry)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Entry)

// Trace implements Sink.
func (f SinkFunc) Trace(e Entry) { f(e) }

// Discard drops every entry.
var Discard Sink = SinkFunc(func(Entry) {})

// Error builds an error entry.
func Error(src Source, text string) Entry {
	return Entry{Source: src, Severity: core.SeverityError, Level: Quiet, Text: text}
}

// Info builds an informational entry shown at level.
func Info(src Source, level int, text string) Entry {
	return Entry{Source: src, Severity: core.SeverityInfo, Level: level, Text: text}
}
