package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// Styles holds lipgloss styles for console output.
type Styles struct {
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
}

// NewStyles builds styles for r. A renderer writing to a non-terminal
// degrades to plain text.
func NewStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Info:    r.NewStyle(),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Bold:    r.NewStyle().Bold(true),
	}
}

func (s *Styles) forEntry(e Entry) lipgloss.Style {
	switch {
	case e.Severity.IsError():
		return s.Error
	case e.Severity == core.SeverityWarning:
		return s.Warning
	case e.Source == SourcePreprocessor || e.Level >= VeryVerbose:
		return s.Muted
	default:
		return s.Info
	}
}

// Console writes entries to a terminal stream, filtered by verbosity.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	verbosity int
	styles    *Styles
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer, verbosity int) *Console {
	return &Console{
		w:         w,
		verbosity: verbosity,
		styles:    NewStyles(lipgloss.NewRenderer(w)),
	}
}

// Trace implements Sink.
func (c *Console) Trace(e Entry) {
	if !e.Visible(c.verbosity) {
		return
	}
	style := c.styles.forEntry(e)

	c.mu.Lock()
	defer c.mu.Unlock()
	// result sets are pre-formatted tables and are printed unstyled
	if e.Source == SourceResult {
		_, _ = fmt.Fprintln(c.w, strings.TrimRight(e.Text, "\n"))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(e.Text, "\n"), "\n") {
		_, _ = fmt.Fprintln(c.w, style.Render(line))
	}
}
