// Package debugdump renders the tabular text the debug_op.dump_*
// syscalls write to the extension's console. Dump output highlights
// flag columns with raw SGR codes and measures cells with
// ansi.StringWidth/ansi.Truncate so column alignment survives those
// escapes and any wide runes in string fields.
package debugdump

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

const maxColumnWidth = 32

const (
	sgrBold  = "\x1b[1m"
	sgrReset = "\x1b[0m"
)

// Bold wraps s in the bold SGR sequence, used to pick out an id or
// flag column in a dump (e.g. the active-on-pp marker).
func Bold(s string) string {
	return sgrBold + s + sgrReset
}

// Table renders headers and rows as a fixed-width text table. Column
// widths are derived from ansi.StringWidth so embedded SGR sequences
// (from Bold) don't themselves count toward alignment.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render formats t as a newline-terminated string, one line per row
// plus a header line, columns separated by two spaces and padded to
// the widest cell in that column (capped at maxColumnWidth; wider
// cells are truncated with an ellipsis tail).
func (t Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = ansi.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				continue
			}
			if w := ansi.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		if widths[i] > maxColumnWidth {
			widths[i] = maxColumnWidth
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = ansi.Truncate(cells[i], w, "…")
			}
			pad := w - ansi.StringWidth(cell)
			if pad < 0 {
				pad = 0
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", pad))
			if i != len(widths)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	writeRow(t.Headers)
	for _, row := range t.Rows {
		writeRow(row)
	}
	return b.String()
}

// Fields renders a single object as "key: value" lines, used by
// dump_page_pool/dump_huge_pool where the shape is a flat record
// rather than a table of many objects.
func Fields(pairs ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, "%s: %v\n", pairs[i], pairs[i+1])
	}
	return b.String()
}
