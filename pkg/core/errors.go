package core

import (
	"errors"
	"fmt"
)

// ExitClass is the single classification a run produces.
type ExitClass int

// Exit classifications, in process exit code order.
const (
	ExitSuccess ExitClass = iota
	ExitConfig
	ExitFileIO
	ExitPreprocess
	ExitConnection
	ExitCommand
	ExitUnexpected
)

// Code returns the process exit code for the classification.
func (c ExitClass) Code() int {
	return int(c)
}

// String returns the string representation of the classification.
func (c ExitClass) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitConfig:
		return "configuration error"
	case ExitFileIO:
		return "file error"
	case ExitPreprocess:
		return "preprocessor error"
	case ExitConnection:
		return "connection error"
	case ExitCommand:
		return "command error"
	default:
		return "unexpected error"
	}
}

// Classified is implemented by errors that know their run classification.
type Classified interface {
	ExitClass() ExitClass
}

// ClassOf returns the classification of err.
// nil is success; errors that do not declare a class are unexpected.
func ClassOf(err error) ExitClass {
	if err == nil {
		return ExitSuccess
	}
	var c Classified
	if errors.As(err, &c) {
		return c.ExitClass()
	}
	return ExitUnexpected
}

// RunError attaches a classification to an arbitrary error.
type RunError struct {
	Class ExitClass
	Err   error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// ExitClass implements Classified.
func (e *RunError) ExitClass() ExitClass {
	return e.Class
}

// Classify wraps err with the given classification. A nil err stays nil.
func Classify(class ExitClass, err error) error {
	if err == nil {
		return nil
	}
	return &RunError{Class: class, Err: err}
}

// ConfigErrorf returns a configuration error.
func ConfigErrorf(format string, args ...any) error {
	return &RunError{Class: ExitConfig, Err: fmt.Errorf(format, args...)}
}

// BackendError is a failure reported by a database backend, already
// translated into the common message shape.
type BackendError struct {
	Message Message
	// Err is the original driver error, when there is one.
	Err error
}

func (e *BackendError) Error() string {
	return e.Message.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ExitClass implements Classified.
func (e *BackendError) ExitClass() ExitClass {
	return ExitCommand
}
