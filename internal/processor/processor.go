// Package processor contains the strategies a run hands completed batches to:
// Execution runs them against a live connection, Distribution writes them to
// a deployable script.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Processor consumes the batches of one run.
//
// SignIn is called once before the first batch and SignOut once after the
// last, including after a failure. Batches arrive one at a time.
type Processor interface {
	SignIn(ctx context.Context) error
	ProcessBatch(ctx context.Context, b *batch.Batch) error
	// ProcessProgress reports a non-batch line, such as "Executing batch 3",
	// about the batch that is processed next.
	ProcessProgress(ctx context.Context, b *batch.Batch, text string) error
	SignOut() error

	// Cancel asks the processor to stop taking batches. It is idempotent and
	// does not interrupt a batch already submitted.
	Cancel()
	Cancelled() bool
}

// Validator is implemented by processors with preconditions that are checked
// before SignIn.
type Validator interface {
	Validate() error
}

// BatchError is a batch the backend rejected.
type BatchError struct {
	Batch    int
	Location core.Location
	Message  core.Message
	Err      error
	// Abort is set when the run must stop after this batch.
	Abort bool
}

// Error renders the failure as file(line): Error: message.
func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: Error: %s", e.Location, e.Message.String())
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExitClass implements core.Classified.
func (e *BatchError) ExitClass() core.ExitClass {
	return core.ExitCommand
}

// Fatal reports whether err must end the run. Batch errors are fatal only when
// marked to abort; every other error is fatal.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Abort
	}
	return true
}

// FormatMessage renders a backend message against the source position it maps
// to.
func FormatMessage(loc core.Location, m core.Message) string {
	label := "Error"
	switch {
	case m.Severity == core.SeverityWarning:
		label = "Warning"
	case !m.Severity.IsError():
		return m.Text
	}
	s := fmt.Sprintf("%s: %s: %s", loc, label, m.String())
	if m.Procedure != "" {
		s += fmt.Sprintf(" (procedure %s)", m.Procedure)
	}
	return s
}
