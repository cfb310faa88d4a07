package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// TablesSheet is the name of the sheet holding the table summary.
const TablesSheet = "Tables"

const maxSheetName = 31

// WriteXLSX writes the view's CSV outputs, one sheet each, and a summary of
// the detected tables to w as an Excel workbook.
func WriteXLSX(v *View, w io.Writer) error {
	if v == nil {
		return fmt.Errorf("no result to export")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// The default sheet becomes the summary so the workbook is never empty.
	if err := f.SetSheetName("Sheet1", TablesSheet); err != nil {
		return fmt.Errorf("failed to rename default sheet: %w", err)
	}
	if err := writeTables(f, v.Tables); err != nil {
		return err
	}

	used := map[string]bool{strings.ToLower(TablesSheet): true}
	for i, o := range v.CSVOutputs() {
		name := sheetName(o, i, used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", name, err)
		}
		if err := writeCSV(f, name, o.Content); err != nil {
			return fmt.Errorf("output %q: %w", o.Name, err)
		}
	}

	idx, _ := f.GetSheetIndex(TablesSheet)
	f.SetActiveSheet(idx)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeTables(f *excelize.File, tables []Table) error {
	headers := []string{"Table", "Rows", "Columns", "Accuracy (%)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(TablesSheet, cell, h); err != nil {
			return fmt.Errorf("failed to write table header: %w", err)
		}
	}
	for r, t := range tables {
		row := []any{t.Name, t.Rows, t.Columns, t.Accuracy}
		for c, val := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(TablesSheet, cell, val); err != nil {
				return fmt.Errorf("failed to write table summary: %w", err)
			}
		}
	}
	_ = f.SetColWidth(TablesSheet, "A", "A", 32)
	_ = f.SetColWidth(TablesSheet, "B", "D", 14)
	return nil
}

func writeCSV(f *excelize.File, sheet, content string) error {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	row := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse CSV: %w", err)
		}
		for c, field := range record {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(sheet, cell, cellValue(field)); err != nil {
				return err
			}
		}
		row++
	}
}

// cellValue stores numeric fields as numbers.
func cellValue(field string) any {
	s := strings.TrimSpace(field)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return field
}

// sheetName derives a unique, Excel-legal sheet name for an output.
func sheetName(o Output, i int, used map[string]bool) string {
	base := o.Name
	if o.Source != "" {
		base = strings.TrimSuffix(o.Source, ".pdf") + "_" + o.Name
	}
	base = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(base))
	base = strings.Trim(base, "'")
	if base == "" {
		base = fmt.Sprintf("output_%d", i+1)
	}

	name := truncate(base, maxSheetName)
	for n := 2; used[strings.ToLower(name)]; n++ {
		suffix := fmt.Sprintf("_%d", n)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[strings.ToLower(name)] = true
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
