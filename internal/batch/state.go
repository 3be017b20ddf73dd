package batch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// State is the mutable per-run processing state: the current source position,
// the batch counter, and the text and contexts of the batch being assembled.
// It is owned by the scanner goroutine and is not safe for concurrent use.
type State struct {
	file     string
	fileLine int
	number   int

	buf      strings.Builder
	lines    int
	contexts Contexts
}

// NewState starts at line 1 of file with batch number 1.
func NewState(file string) *State {
	s := &State{file: file, fileLine: 1, number: 1}
	s.seed()
	return s
}

func (s *State) seed() {
	s.contexts = Contexts{{Offset: 1, File: s.file, Line: s.fileLine}}
}

// File is the current source file.
func (s *State) File() string { return s.file }

// FileLine is the source line number the next scanned line will have.
func (s *State) FileLine() int { return s.fileLine }

// Number is the number the batch being assembled will get.
func (s *State) Number() int { return s.number }

// Lines is the number of lines in the batch being assembled.
func (s *State) Lines() int { return s.lines }

// Append adds a plain text line to the batch.
func (s *State) Append(line string) {
	s.buf.WriteString(line)
	s.buf.WriteByte('\n')
	s.lines++
	s.fileLine++
}

// Skip accounts for a consumed source line that is not part of any batch,
// such as a terminator.
func (s *State) Skip() {
	s.fileLine++
}

// Advance re-anchors the following lines to line of file. An empty file keeps
// the current one. When no text has been appended yet the seed context is
// replaced, otherwise a new context starts at the next in-batch line.
func (s *State) Advance(file string, line int) {
	if file != "" {
		s.file = file
	}
	s.fileLine = line
	ctx := Context{Offset: s.lines + 1, File: s.file, Line: line}
	if s.lines == 0 {
		s.contexts[0] = ctx
		return
	}
	s.contexts = append(s.contexts, ctx)
}

// Blank reports whether the batch holds nothing but whitespace and comments.
func (s *State) Blank() bool {
	return onlyComments(s.buf.String())
}

// onlyComments reports whether text consists of whitespace, -- line comments
// and /* */ block comments, which nest. An unterminated block comment is
// content, so that the backend gets to report it.
func onlyComments(text string) bool {
	for i := 0; i < len(text); {
		switch rest := text[i:]; {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				return true
			}
			i += end + 1
		case strings.HasPrefix(rest, "/*"):
			n := blockCommentLen(rest)
			if n < 0 {
				return false
			}
			i += n
		default:
			r, size := utf8.DecodeRuneInString(rest)
			if !unicode.IsSpace(r) {
				return false
			}
			i += size
		}
	}
	return true
}

// blockCommentLen returns the length of the block comment text starts with,
// or -1 when it is not closed.
func blockCommentLen(text string) int {
	depth := 0
	for i := 0; i+1 < len(text); {
		switch text[i : i+2] {
		case "/*":
			depth++
			i += 2
		case "*/":
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// Take returns the assembled batch and resets for the next one. It returns
// nil, without consuming a batch number, when the batch is blank.
func (s *State) Take() *Batch {
	var b *Batch
	if !s.Blank() {
		b = &Batch{
			Number:   s.number,
			Text:     s.buf.String(),
			Contexts: append(Contexts(nil), s.contexts...),
		}
		s.number++
	}
	s.buf.Reset()
	s.lines = 0
	s.seed()
	return b
}

// Snapshot returns the batch being assembled without resetting.
func (s *State) Snapshot() *Batch {
	return &Batch{
		Number:   s.number,
		Text:     s.buf.String(),
		Contexts: append(Contexts(nil), s.contexts...),
	}
}
