package sqlserver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-sql/sqlexp"
	"github.com/leapstack-labs/leapbatch/pkg/core"
	mssql "github.com/microsoft/go-mssqldb"
)

// messageStream drives the sqlexp message loop and exposes it as an
// adapter.ResultStream.
type messageStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	rows   *sql.Rows
	msgs   *sqlexp.ReturnMessage
	notify func(core.Message)

	cols     []string
	inSet    bool
	done     bool
	affected int64
	err      error
}

func (s *messageStream) NextResultSet() bool {
	if s.inSet {
		for s.rows.Next() {
		}
		s.inSet = false
	}
	for !s.done {
		switch m := s.msgs.Message(s.ctx).(type) {
		case sqlexp.MsgNotice:
			s.notify(noticeMessage(m.Message))
		case sqlexp.MsgError:
			if s.err == nil {
				s.err = m.Error
			}
		case sqlexp.MsgRowsAffected:
			if s.affected < 0 {
				s.affected = 0
			}
			s.affected += m.Count
		case sqlexp.MsgNext:
			cols, err := s.rows.Columns()
			if err != nil {
				if s.err == nil {
					s.err = err
				}
				s.done = true
				return false
			}
			s.cols = cols
			s.inSet = true
			return true
		case sqlexp.MsgNextResultSet:
			if !s.rows.NextResultSet() {
				s.done = true
			}
		}
	}
	return false
}

func (s *messageStream) Columns() []string { return s.cols }

func (s *messageStream) Next() bool {
	if !s.inSet {
		return false
	}
	return s.rows.Next()
}

func (s *messageStream) Values() ([]any, error) {
	vals := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (s *messageStream) RowsAffected() int64 { return s.affected }

func (s *messageStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *messageStream) Close() error {
	err := s.rows.Close()
	s.cancel()
	return err
}

// noticeMessage converts an informational message. The driver reports
// server info tokens as mssql.Error values.
func noticeMessage(m fmt.Stringer) core.Message {
	if e, ok := any(m).(mssql.Error); ok {
		return messageFromError(e)
	}
	return core.Message{Severity: core.SeverityInfo, Text: m.String()}
}
