// Package batch tracks the batch being assembled and maps in-batch line
// numbers back to positions in the original source files.
//
// Line numbering conventions:
//   - in-batch lines are 1-based; line 1 is the first line of batch text
//   - a Context anchors Offset (an in-batch line) to Line of File
//   - the first Context of a batch always has Offset 1
package batch

import "github.com/leapstack-labs/leapbatch/pkg/core"

// Context maps the in-batch line Offset, and every line after it up to the
// next Context, onto File starting at Line.
type Context struct {
	Offset int
	File   string
	Line   int
}

// Contexts is the time-ordered list of contexts for one batch.
type Contexts []Context

// Translate returns the source position of in-batch line n. The last context
// whose Offset is at or before n applies. Lines at or below zero, which
// backends report when they cannot attribute a line, are clamped to the
// first context.
func (c Contexts) Translate(n int) core.Location {
	if len(c) == 0 {
		return core.Location{Line: max(n, 0)}
	}
	if n < c[0].Offset {
		n = c[0].Offset
	}
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Offset <= n {
			return core.Location{File: c[i].File, Line: c[i].Line + (n - c[i].Offset)}
		}
	}
	// unreachable: c[0].Offset <= n after clamping
	return core.Location{File: c[0].File, Line: c[0].Line}
}

// Batch is a completed batch handed to a processor.
type Batch struct {
	// Number is 1-based and counts only batches that reached a processor.
	Number   int
	Text     string
	Contexts Contexts
}

// Translate maps in-batch line n to its source position.
func (b *Batch) Translate(n int) core.Location {
	return b.Contexts.Translate(n)
}

// Start is the source position of the first line of the batch.
func (b *Batch) Start() core.Location {
	return b.Contexts.Translate(1)
}
