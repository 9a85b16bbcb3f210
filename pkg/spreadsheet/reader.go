package spreadsheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/registrar-office/registrar-engine/pkg/apperrors"
)

// Workbook is an opened spreadsheet file.
type Workbook interface {
	SheetNames() []string
	// ReadSheet parses a sheet by name; an empty name selects the first sheet.
	ReadSheet(name string) (*Sheet, error)
	Close() error
}

// Open opens an .xlsx/.xlsm workbook or a .csv file. Any failure wraps
// apperrors.ErrUnreadableFile.
func Open(path string) (Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreadableFile, err)
		}
		wb := &xlsxWorkbook{f: f, dateStyles: make(map[int]bool)}
		if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
			wb.date1904 = *props.Date1904
		}
		return wb, nil
	case ".csv":
		return openCSV(path)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", apperrors.ErrUnreadableFile, filepath.Ext(path))
	}
}

// SupportedExtension reports whether Open accepts files with ext.
func SupportedExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	}
	return false
}

type xlsxWorkbook struct {
	f          *excelize.File
	date1904   bool
	dateStyles map[int]bool
}

func (w *xlsxWorkbook) SheetNames() []string {
	return w.f.GetSheetList()
}

func (w *xlsxWorkbook) Close() error {
	return w.f.Close()
}

func (w *xlsxWorkbook) ReadSheet(name string) (*Sheet, error) {
	sheets := w.f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", apperrors.ErrUnreadableFile)
	}
	if name == "" {
		name = sheets[0]
	} else if !contains(sheets, name) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrSheetNotFound, name)
	}

	rows, err := w.f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreadableFile, err)
	}

	sheet := &Sheet{Name: name}
	if len(rows) == 0 {
		return sheet, nil
	}

	for i, raw := range rows[0] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(Text(w.cell(name, 1, i+1, raw))))
	}

	for r := 1; r < len(rows); r++ {
		row := Row{Number: r + 1, Cells: make([]Cell, len(rows[r]))}
		for c, raw := range rows[r] {
			row.Cells[c] = w.cell(name, r+1, c+1, raw)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// cell builds a typed cell from the raw stored text plus the cell's
// type, style, formula, hyperlink and rich-text metadata.
func (w *xlsxWorkbook) cell(sheet string, row, col int, raw string) Cell {
	if raw == "" {
		return Cell{}
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Cell{Value: raw}
	}

	typ, _ := w.f.GetCellType(sheet, ref)
	value := w.typedValue(sheet, ref, typ, raw)
	c := Cell{Value: value}

	if typ == excelize.CellTypeSharedString || typ == excelize.CellTypeInlineString {
		if runs, err := w.f.GetCellRichText(sheet, ref); err == nil && len(runs) > 1 {
			for _, run := range runs {
				c.RichText = append(c.RichText, run.Text)
			}
		}
	}
	if expr, err := w.f.GetCellFormula(sheet, ref); err == nil && expr != "" {
		c.Formula = &Formula{Expr: expr, Result: value}
	}
	if ok, target, err := w.f.GetCellHyperLink(sheet, ref); err == nil && ok {
		c.Hyperlink = &Hyperlink{Text: value, Target: target}
	}
	return c
}

func (w *xlsxWorkbook) typedValue(sheet, ref string, typ excelize.CellType, raw string) any {
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeError:
		return nil
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
		return raw
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeFormula:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return raw
		}
		if w.isDateStyled(sheet, ref) {
			if t, err := excelize.ExcelDateToTime(n, w.date1904); err == nil {
				return t
			}
		}
		return n
	default:
		return raw
	}
}

// isDateStyled reports whether the cell's number format renders a date.
// Results are cached per style index.
func (w *xlsxWorkbook) isDateStyled(sheet, ref string) bool {
	idx, err := w.f.GetCellStyle(sheet, ref)
	if err != nil || idx == 0 {
		return false
	}
	if v, ok := w.dateStyles[idx]; ok {
		return v
	}
	isDate := false
	if style, err := w.f.GetStyle(idx); err == nil && style != nil {
		isDate = isDateFormat(style.NumFmt, style.CustomNumFmt)
	}
	w.dateStyles[idx] = isDate
	return isDate
}

func isDateFormat(numFmt int, custom *string) bool {
	if (numFmt >= 14 && numFmt <= 17) || numFmt == 22 {
		return true
	}
	if custom == nil {
		return false
	}
	// Drop quoted literals and bracketed sections ([Red], [$-409]) before
	// looking for day or year tokens.
	var b strings.Builder
	quoted, bracket := false, false
	for _, r := range strings.ToLower(*custom) {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[':
			bracket = true
		case r == ']':
			bracket = false
		case bracket:
		default:
			b.WriteRune(r)
		}
	}
	f := b.String()
	return strings.ContainsAny(f, "dy")
}

type csvWorkbook struct {
	sheet *Sheet
}

// csvSheetName is the single sheet a CSV file exposes.
const csvSheetName = "Sheet1"

func openCSV(path string) (Workbook, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreadableFile, err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	sheet := &Sheet{Name: csvSheetName}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrUnreadableFile, err)
		}
		line++
		if line == 1 {
			for i, h := range record {
				if i == 0 {
					h = strings.TrimPrefix(h, "\ufeff")
				}
				sheet.Headers = append(sheet.Headers, strings.TrimSpace(h))
			}
			continue
		}
		row := Row{Number: line, Cells: make([]Cell, len(record))}
		for i, v := range record {
			if v != "" {
				row.Cells[i] = Cell{Value: v}
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return &csvWorkbook{sheet: sheet}, nil
}

func (w *csvWorkbook) SheetNames() []string { return []string{csvSheetName} }

func (w *csvWorkbook) Close() error { return nil }

func (w *csvWorkbook) ReadSheet(name string) (*Sheet, error) {
	if name != "" && name != csvSheetName {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrSheetNotFound, name)
	}
	return w.sheet, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
