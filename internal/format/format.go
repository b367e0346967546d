// Package format renders command output as terminal or Markdown tables.
package format

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects the rendering target.
type Mode int

const (
	ASCII    Mode = iota // box-drawing tables for terminals
	Markdown             // GitHub-flavoured Markdown tables
)

// Table accumulates rows once and renders them in the Mode set at
// creation.
type Table struct {
	mode   Mode
	writer table.Writer
}

// NewTable returns an empty table rendering in mode.
func NewTable(mode Mode) *Table {
	w := table.NewWriter()
	if mode == ASCII {
		w.SetStyle(table.StyleLight)
	}
	return &Table{mode: mode, writer: w}
}

// Header sets the column headers.
func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.writer.AppendHeader(row)
}

// Row appends one data row.
func (t *Table) Row(cells ...string) {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	t.writer.AppendRow(row)
}

// Center centers the given 1-based columns; the name column usually
// stays left-aligned.
func (t *Table) Center(cols ...int) {
	cfgs := make([]table.ColumnConfig, len(cols))
	for i, n := range cols {
		cfgs[i] = table.ColumnConfig{Number: n, Align: text.AlignCenter}
	}
	t.writer.SetColumnConfigs(cfgs)
}

// String renders the table in the configured Mode.
func (t *Table) String() string {
	if t.mode == Markdown {
		return t.writer.RenderMarkdown()
	}
	return t.writer.Render()
}
