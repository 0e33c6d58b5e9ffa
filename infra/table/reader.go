// Package table reads volume tables from CSV and XLSX files.
package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kilianp07/dispense/core/logger"
	"github.com/kilianp07/dispense/core/model"
)

// ErrEmptyTable is returned when a file has no header or no data row.
var ErrEmptyTable = errors.New("table must have a header row and one data row")

// Options tunes how a table file is read.
type Options struct {
	// Sheet selects the XLSX sheet; empty means the first sheet.
	Sheet string `json:"sheet"`
}

// Reader loads volume tables from disk. It implements the protocol table
// loader.
type Reader struct {
	opts Options
	log  logger.Logger
}

// NewReader creates a Reader. A nil logger discards output.
func NewReader(opts Options, log logger.Logger) *Reader {
	return &Reader{opts: opts, log: logger.OrNop(log)}
}

// Load reads the file at path. The format is picked from the extension:
// .csv, or .xlsx/.xlsm for spreadsheets.
func (r *Reader) Load(ctx context.Context, path string) (model.VolumeTable, error) {
	if err := ctx.Err(); err != nil {
		return model.VolumeTable{}, err
	}
	var (
		rows [][]string
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = readExcel(path, r.opts.Sheet)
	default:
		return model.VolumeTable{}, fmt.Errorf("unsupported table format %q", ext)
	}
	if err != nil {
		return model.VolumeTable{}, err
	}
	t, err := FromRows(rows)
	if err != nil {
		return model.VolumeTable{}, fmt.Errorf("%s: %w", path, err)
	}
	r.log.Debugf("read %s: %d columns, %d rows", path, len(t.Columns), t.NumRows())
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	return rows, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyTable
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// FromRows converts raw rows into a VolumeTable. The first row is the
// header, the first column holds row labels and every other cell is parsed
// with ParseCell. Short rows are padded with blank cells and trailing blank
// rows are ignored.
func FromRows(rows [][]string) (model.VolumeTable, error) {
	for len(rows) > 0 && blank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) < 2 || len(rows[0]) < 2 {
		return model.VolumeTable{}, ErrEmptyTable
	}
	header := rows[0]
	t := model.VolumeTable{LabelHeader: strings.TrimSpace(header[0])}
	for _, h := range header[1:] {
		t.Columns = append(t.Columns, strings.TrimSpace(h))
	}
	for i, row := range rows[1:] {
		if len(row) > len(header) && !blank(row[len(header):]) {
			return model.VolumeTable{}, fmt.Errorf("row %d has %d cells, header has %d", i+1, len(row), len(header))
		}
		label := ""
		if len(row) > 0 {
			label = strings.TrimSpace(row[0])
		}
		cells := make([]model.Cell, len(t.Columns))
		for j := range t.Columns {
			raw := ""
			if j+1 < len(row) {
				raw = row[j+1]
			}
			c, err := ParseCell(raw)
			if err != nil {
				return model.VolumeTable{}, fmt.Errorf("row %d column %s: %w", i+1, t.Columns[j], err)
			}
			cells[j] = c
		}
		t.RowLabels = append(t.RowLabels, label)
		t.Rows = append(t.Rows, cells)
	}
	return t, t.Validate()
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
