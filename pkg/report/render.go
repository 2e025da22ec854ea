package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// column headers
const (
	headerName  = "ClassName"
	headerTotal = "Total(ms)"
	headerSelf  = "Self(ms)"
	headerCount = "Count"
	minNameLen  = 10
)

// Headers returns the column titles of the report.
func (r *Report) Headers() []string {
	h := []string{headerName, headerTotal, headerSelf, headerCount}
	if r.Unit != "" {
		h = append(h, r.Unit+"/exec")
	}
	return h
}

// Rows returns the report cells as text, one slice per entry.
// The per-invocation cell is empty for entries under the threshold.
func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		row := []string{
			e.Display(),
			strconv.FormatInt(e.Total.Milliseconds(), 10),
			strconv.FormatInt(e.Self.Milliseconds(), 10),
			strconv.FormatInt(e.Execs, 10),
		}
		if r.Unit != "" {
			cell := ""
			if e.PerExec != nil {
				cell = strconv.FormatInt(*e.PerExec, 10)
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	return rows
}

// String renders the report as a fixed-width table: the name column is
// left-justified and never truncated, numbers are right-justified.
func (r *Report) String() string {
	headers := r.Headers()
	rows := r.Rows()

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	if widths[0] < minNameLen {
		widths[0] = minNameLen
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeLine := func(cells []string) {
		b.WriteString(padRight(cells[0], widths[0]))
		for i := 1; i < len(cells); i++ {
			if cells[i] == "" {
				continue
			}
			b.WriteByte(' ')
			b.WriteString(padLeft(cells[i], widths[i]))
		}
		b.WriteByte('\n')
	}

	writeLine(headers)
	for _, row := range rows {
		writeLine(row)
	}
	return b.String()
}

// WriteTable renders the report as a bordered table.
func (r *Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	headers := r.Headers()
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	table.Header(header...)

	for _, row := range r.Rows() {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		table.Append(cells...)
	}

	table.Render()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}
