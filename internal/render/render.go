// Package render formats result sets as text for trace output.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/leapbatch/pkg/adapter"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// minAutoWidth keeps auto-sized columns readable on narrow terminals.
const minAutoWidth = 8

// Options controls result formatting.
type Options struct {
	Format string
	// ColumnWidth caps every column; values beyond it are truncated.
	// Zero means auto: derived from TermWidth, or unlimited without one.
	ColumnWidth int
	TermWidth   int
}

// ResultSet is one fully read result set.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Collect reads the current result set of rs.
func Collect(rs adapter.ResultStream) (*ResultSet, error) {
	out := &ResultSet{Columns: rs.Columns()}
	for rs.Next() {
		vals, err := rs.Values()
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rs.Err()
}

// Write renders set to w.
func Write(w io.Writer, set *ResultSet, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return renderJSON(w, set)
	case FormatCSV, FormatMarkdown:
		t := newTable(w, set, 0)
		if opts.Format == FormatCSV {
			t.RenderCSV()
		} else {
			t.RenderMarkdown()
		}
		return nil
	default:
		return renderTable(w, set, columnWidth(opts, len(set.Columns)))
	}
}

func columnWidth(opts Options, ncols int) int {
	if opts.ColumnWidth > 0 {
		return opts.ColumnWidth
	}
	if opts.TermWidth <= 0 || ncols == 0 {
		return 0
	}
	// light style: one border per column plus the closing one, one space of padding each side
	avail := opts.TermWidth - (ncols + 1) - 2*ncols
	return max(avail/ncols, minAutoWidth)
}

func newTable(w io.Writer, set *ResultSet, width int) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(set.Columns))
	for i, col := range set.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, vals := range set.Rows {
		row := make(table.Row, len(vals))
		for i, v := range vals {
			row[i] = FormatValue(v)
		}
		t.AppendRow(row)
	}

	if width > 0 {
		configs := make([]table.ColumnConfig, len(set.Columns))
		for i := range set.Columns {
			configs[i] = table.ColumnConfig{
				Number:           i + 1,
				WidthMax:         width,
				WidthMaxEnforcer: text.Trim,
			}
		}
		t.SetColumnConfigs(configs)
	}
	return t
}

func renderTable(w io.Writer, set *ResultSet, width int) error {
	if len(set.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	newTable(w, set, width).Render()
	if len(set.Rows) == 1 {
		_, _ = fmt.Fprintln(w, "(1 row)")
	} else {
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(set.Rows))
	}
	return nil
}

func renderJSON(w io.Writer, set *ResultSet) error {
	results := make([]map[string]any, 0, len(set.Rows))
	for _, vals := range set.Rows {
		row := make(map[string]any, len(set.Columns))
		for i, col := range set.Columns {
			if i < len(vals) {
				row[col] = jsonValue(vals[i])
			}
		}
		results = append(results, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// FormatValue renders a single column value.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}
