package model

import "fmt"

// SolutionID identifies a solution inside a multi-solution cell.
type SolutionID string

// WellID is a grid coordinate inside a labware, e.g. "A1".
type WellID string

// Cell maps solutions to the volume (µL) planned for one well.
type Cell map[SolutionID]float64

// Lookup returns the volume planned for s and whether the cell mentions it.
func (c Cell) Lookup(s SolutionID) (float64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c[s]
	return v, ok
}

// VolumeTable is the typed form of a volume spreadsheet. The label column is
// kept apart from the data columns; Rows is row-major and rectangular.
type VolumeTable struct {
	LabelHeader string
	Columns     []string
	RowLabels   []string
	Rows        [][]Cell
}

// NumRows returns the number of data rows.
func (t VolumeTable) NumRows() int { return len(t.Rows) }

// NumCells returns the number of data cells, label column excluded.
func (t VolumeTable) NumCells() int { return len(t.Rows) * len(t.Columns) }

// Column returns the cells of data column j from top to bottom.
func (t VolumeTable) Column(j int) []Cell {
	out := make([]Cell, len(t.Rows))
	for i, row := range t.Rows {
		if j < len(row) {
			out[i] = row[j]
		}
	}
	return out
}

// Validate checks that every row has one cell per data column and one label.
func (t VolumeTable) Validate() error {
	if len(t.RowLabels) != len(t.Rows) {
		return fmt.Errorf("table has %d row labels for %d rows", len(t.RowLabels), len(t.Rows))
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}
