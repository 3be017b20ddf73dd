// Package scanner splits preprocessor output into batches.
//
// Every input line is classified, in order of precedence, as a remap
// directive, a batch terminator, or plain text. Directive and terminator
// lines never appear inside a batch.
package scanner

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapbatch/internal/batch"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultTerminator is the batch terminator token.
const DefaultTerminator = "go"

// Kind classifies a scanned line.
type Kind int

// Line kinds.
const (
	KindText Kind = iota
	KindDirective
	KindTerminator
)

// Splitter produces batches from a text stream. It is single-pass and not
// restartable.
type Splitter struct {
	r          *bufio.Reader
	state      *batch.State
	terminator string
	logger     *slog.Logger
	// pending holds lines of the last chunk split at bare carriage returns.
	pending []string
	done    bool
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithTerminator overrides the terminator token.
func WithTerminator(tok string) Option {
	return func(s *Splitter) {
		if tok != "" {
			s.terminator = tok
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Splitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Splitter reading r. file names the source for lines that
// precede any directive. UTF-16 input is accepted when it carries a BOM.
func New(r io.Reader, file string, opts ...Option) *Splitter {
	s := &Splitter{
		r:          bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(transform.Nop))),
		state:      batch.NewState(file),
		terminator: DefaultTerminator,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State exposes the processing state, e.g. for progress reporting.
func (s *Splitter) State() *batch.State { return s.state }

// Classify returns the kind of line.
func (s *Splitter) Classify(line string) Kind {
	k, _ := s.classify(line)
	return k
}

func (s *Splitter) classify(line string) (Kind, Directive) {
	if d, ok := ParseDirective(line); ok {
		return KindDirective, d
	}
	if strings.EqualFold(strings.TrimSpace(line), s.terminator) {
		return KindTerminator, Directive{}
	}
	return KindText, Directive{}
}

// Next returns the next non-blank batch. It returns io.EOF once the stream is
// exhausted; a trailing batch without terminator is returned before that.
func (s *Splitter) Next() (*batch.Batch, error) {
	for {
		line, ok, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		switch kind, d := s.classify(line); kind {
		case KindDirective:
			s.logger.Debug("remap directive", slog.String("file", d.File), slog.Int("line", d.Line))
			s.state.Advance(d.File, d.Line)
		case KindTerminator:
			s.state.Skip()
			if b := s.state.Take(); b != nil {
				return b, nil
			}
		default:
			s.state.Append(line)
		}
	}

	if b := s.state.Take(); b != nil {
		return b, nil
	}
	return nil, io.EOF
}

// readLine returns the next line without its separator. A line ends at \n,
// \r\n or a bare \r. ok is false once the stream is exhausted.
func (s *Splitter) readLine() (string, bool, error) {
	for len(s.pending) == 0 {
		if s.done {
			return "", false, nil
		}
		chunk, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", false, err
		}
		if err == io.EOF {
			s.done = true
			if chunk == "" {
				return "", false, nil
			}
		}
		chunk = strings.TrimSuffix(strings.TrimSuffix(chunk, "\n"), "\r")
		s.pending = strings.Split(chunk, "\r")
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	return line, true, nil
}
