package spreadsheet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// SheetData is one sheet to author: a header row followed by value rows.
type SheetData struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// WriteWorkbook writes sheets to a new .xlsx file at path, creating the
// parent directory when needed. Sheets are streamed row by row.
func WriteWorkbook(path string, sheets []SheetData) (err error) {
	if len(sheets) == 0 {
		return fmt.Errorf("no sheets to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	defaultSheet := f.GetSheetName(0)
	for i, sd := range sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sd.Name); err != nil {
				return fmt.Errorf("failed to name sheet %q: %w", sd.Name, err)
			}
		} else if _, err := f.NewSheet(sd.Name); err != nil {
			return fmt.Errorf("failed to add sheet %q: %w", sd.Name, err)
		}
		if err := writeSheet(f, sd, headerStyle); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sd SheetData, headerStyle int) error {
	sw, err := f.NewStreamWriter(sd.Name)
	if err != nil {
		return fmt.Errorf("failed to open stream writer for %q: %w", sd.Name, err)
	}

	rowNum := 1
	if len(sd.Headers) > 0 {
		header := make([]any, len(sd.Headers))
		for i, h := range sd.Headers {
			header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
		}
		if err := sw.SetRow("A1", header); err != nil {
			return fmt.Errorf("failed to write header of %q: %w", sd.Name, err)
		}
		rowNum++
	}

	for _, row := range sd.Rows {
		ref, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = cellValue(v)
		}
		if err := sw.SetRow(ref, values); err != nil {
			return fmt.Errorf("failed to write row %d of %q: %w", rowNum, sd.Name, err)
		}
		rowNum++
	}
	return sw.Flush()
}

// cellValue renders values the stream writer cannot style on its own.
func cellValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return cellValue(*x)
	case []string, []int, []int64:
		return fmt.Sprint(x)
	default:
		return v
	}
}
