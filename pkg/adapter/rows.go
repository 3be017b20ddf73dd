package adapter

import (
	"context"
	"database/sql"
)

// RowsStream adapts *sql.Rows to ResultStream. Result sets without columns
// (DDL, INSERT) are skipped.
type RowsStream struct {
	rows    *sql.Rows
	cancel  context.CancelFunc
	cols    []string
	started bool
	err     error
}

// NewRowsStream wraps rows. cancel, if non-nil, is called on Close.
func NewRowsStream(rows *sql.Rows, cancel context.CancelFunc) *RowsStream {
	return &RowsStream{rows: rows, cancel: cancel}
}

// NextResultSet implements ResultStream.
func (s *RowsStream) NextResultSet() bool {
	if s.err != nil {
		return false
	}
	for {
		if s.started {
			// drain whatever the caller left unread
			for s.rows.Next() {
			}
			if !s.rows.NextResultSet() {
				s.err = s.rows.Err()
				return false
			}
		}
		s.started = true
		cols, err := s.rows.Columns()
		if err != nil {
			s.err = err
			return false
		}
		if len(cols) > 0 {
			s.cols = cols
			return true
		}
	}
}

// Columns implements ResultStream.
func (s *RowsStream) Columns() []string { return s.cols }

// Next implements ResultStream.
func (s *RowsStream) Next() bool {
	if s.err != nil {
		return false
	}
	return s.rows.Next()
}

// Values scans the current row into a fresh slice.
func (s *RowsStream) Values() ([]any, error) {
	vals := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return vals, nil
}

// RowsAffected is not available through database/sql rows.
func (s *RowsStream) RowsAffected() int64 { return -1 }

// Err implements ResultStream.
func (s *RowsStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

// Close implements ResultStream.
func (s *RowsStream) Close() error {
	err := s.rows.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}
