package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

type excelArgs struct {
	FilePath  string         `json:"file_path"`
	WriteData map[string]any `json:"write_data"`
}

// Excel edits workbooks in the datalake. Workbooks stay open between calls
// so a conversation can alternate between files cheaply.
type Excel struct {
	lake Datalake

	mu    sync.Mutex
	books map[string]*excelize.File
}

func NewExcel(lake Datalake) *Excel {
	return &Excel{lake: lake, books: make(map[string]*excelize.File)}
}

func (x *Excel) Tool() Tool {
	t := Func("process_excel",
		"This function lets you create new excel files and edit existing ones. The input is the excel file name (file_path), "+
			"as well as a mapping of cells to values to put in the file (write_data). If the file_path doesnt exist in our data lake, it creates a new one. "+
			"If write_data is empty, nothing is written and the file is just read. The function always returns the post-edited state of the workbook, "+
			"so after writing into an excel calculator you do not need a separate read. "+
			"write_data should be of the format {'A1': 42, 'B2': 'hello', 'C3': 'apple'}. Cell addresses MUST be in A1 notation (A1, B2, etc).",
		Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Name or path of the Excel file to create or edit."},
				"write_data": {
					Type:        "object",
					Description: "Simple dictionary mapping cell addresses to values, e.g., {'A1': 42, 'B2': 'hello'}. Pass {} to only read.",
					Values:      []string{"string", "number"},
				},
			},
			Required: []string{"file_path", "write_data"},
		},
		x.process,
	)
	t.Closer = x
	return t
}

func (x *Excel) process(_ context.Context, a excelArgs) (string, error) {
	path, err := x.lake.Path(a.FilePath)
	if err != nil {
		return "", err
	}
	path = withExt(path, ".xlsx")

	x.mu.Lock()
	defer x.mu.Unlock()

	f, err := x.open(path)
	if err != nil {
		return "", err
	}
	sheet := f.GetSheetList()[0]

	if len(a.WriteData) == 0 {
		log.Debug("Reading workbook", "path", path)
		return readSheet(f, sheet)
	}

	var b strings.Builder
	cells := a.WriteData
	for _, cell := range sortedCells(cells) {
		value := cellValue(cells[cell])
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			fmt.Fprintf(&b, "Could not write %v to %s: %v\n", value, cell, err)
			continue
		}
		fmt.Fprintf(&b, "Wrote %v to %s\n", value, cell)
	}
	if err := f.Save(); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	log.Info("Wrote workbook", "path", path, "cells", len(cells))

	state, err := readSheet(f, sheet)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "Successfully wrote data to %s\n\nCurrent state:\n%s", path, state)
	return b.String(), nil
}

func (x *Excel) open(path string) (*excelize.File, error) {
	key := filepath.Clean(path)
	if f, ok := x.books[key]; ok {
		return f, nil
	}

	var f *excelize.File
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("Creating workbook", "path", path)
		f = excelize.NewFile()
		err = f.SaveAs(path)
	} else if err == nil {
		f, err = excelize.OpenFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	x.books[key] = f
	return f, nil
}

// Close saves and closes every open workbook.
func (x *Excel) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var errs []error
	for key, f := range x.books {
		if err := f.Save(); err != nil {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(x.books, key)
	}
	return errors.Join(errs...)
}

// readSheet lists every non-empty cell as "A1: value", with formulas
// evaluated.
func readSheet(f *excelize.File, sheet string) (string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", sheet, err)
	}

	var lines []string
	for r, row := range rows {
		for c, text := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return "", err
			}
			if formula, _ := f.GetCellFormula(sheet, cell); formula != "" {
				if v, err := f.CalcCellValue(sheet, cell); err == nil {
					text = v
				}
			}
			if text != "" {
				lines = append(lines, cell+": "+text)
			}
		}
	}
	if len(lines) == 0 {
		return "(empty worksheet)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// sortedCells orders cell addresses by row, then column.
func sortedCells(cells map[string]any) []string {
	type coord struct {
		name     string
		col, row int
	}
	coords := make([]coord, 0, len(cells))
	for name := range cells {
		col, row, err := excelize.CellNameToCoordinates(name)
		if err != nil {
			col, row = math.MaxInt, math.MaxInt
		}
		coords = append(coords, coord{name, col, row})
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].row != coords[j].row {
			return coords[i].row < coords[j].row
		}
		if coords[i].col != coords[j].col {
			return coords[i].col < coords[j].col
		}
		return coords[i].name < coords[j].name
	})

	out := make([]string, len(coords))
	for i, c := range coords {
		out[i] = c.name
	}
	return out
}

// cellValue stores whole JSON numbers as integers.
func cellValue(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return int64(f)
	}
	return v
}
