// Package spreadsheet reads uploaded workbooks into typed cells and writes
// multi-sheet outcome workbooks.
package spreadsheet

import (
	"fmt"
	"strings"
)

// Hyperlink is a linked cell. Text is what the sheet displays.
type Hyperlink struct {
	Text   any
	Target string
}

// Formula is a computed cell with its cached result.
type Formula struct {
	Expr   string
	Result any
}

// Cell is one spreadsheet cell. Value holds a plain string, float64, bool,
// time.Time or nil. At most one of the rich representations is usually set.
type Cell struct {
	Value     any
	Hyperlink *Hyperlink
	Formula   *Formula
	RichText  []string
}

// Unwrap reduces a cell to its richest plain value. Preference order is
// hyperlink display text, formula result, concatenated rich-text runs,
// then the plain value. Nested cells are unwrapped recursively.
func Unwrap(v any) any {
	switch c := v.(type) {
	case nil:
		return nil
	case *Cell:
		if c == nil {
			return nil
		}
		return Unwrap(*c)
	case Cell:
		if c.Hyperlink != nil && c.Hyperlink.Text != nil {
			return Unwrap(c.Hyperlink.Text)
		}
		if c.Formula != nil && c.Formula.Result != nil {
			return Unwrap(c.Formula.Result)
		}
		if len(c.RichText) > 0 {
			return strings.Join(c.RichText, "")
		}
		return Unwrap(c.Value)
	case *Hyperlink:
		if c == nil {
			return nil
		}
		return Unwrap(c.Text)
	case *Formula:
		if c == nil {
			return nil
		}
		return Unwrap(c.Result)
	default:
		return v
	}
}

// Text renders an unwrapped value as display text.
func Text(v any) string {
	switch x := Unwrap(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return formatFloat(x)
	default:
		return fmt.Sprint(x)
	}
}

// Row is one data row. Number is the 1-based row number in the sheet.
type Row struct {
	Number int
	Cells  []Cell
}

// At returns the cell at column index i, or an empty cell past the end.
func (r Row) At(i int) Cell {
	if i < 0 || i >= len(r.Cells) {
		return Cell{}
	}
	return r.Cells[i]
}

// IsEmpty reports whether every cell is blank.
func (r Row) IsEmpty() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(Text(c)) != "" {
			return false
		}
	}
	return true
}

// Sheet is a parsed worksheet: its header row and the data rows below it.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// DataRows counts the non-empty data rows.
func (s *Sheet) DataRows() int {
	n := 0
	for _, r := range s.Rows {
		if !r.IsEmpty() {
			n++
		}
	}
	return n
}
