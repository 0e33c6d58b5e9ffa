package plan

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/dispense/core/model"
)

var (
	// ErrLengthMismatch is returned when the flattened table does not line up
	// with the destination wells.
	ErrLengthMismatch = errors.New("volume count does not match well count")
	// ErrEmptySolution is returned when no solution id is given.
	ErrEmptySolution = errors.New("solution id is empty")
	// ErrInvalidVolume is returned for a negative or non-finite volume.
	ErrInvalidVolume = errors.New("volume must be finite and non-negative")
)

// ExtractVolumes reads the volume of solution from every cell. The result has
// exactly one value per cell, in input order. Cells that do not mention the
// solution yield 0 and their index is reported in missing.
func ExtractVolumes(cells []model.Cell, solution model.SolutionID) (volumes []float64, missing []int) {
	volumes = make([]float64, len(cells))
	for i, c := range cells {
		v, ok := c.Lookup(solution)
		if !ok {
			missing = append(missing, i)
			continue
		}
		if v != 0 {
			volumes[i] = v
		}
	}
	return volumes, missing
}

// BuildPlan flattens the table column by column, pairs every volume with the
// well at the same position and drops the zero-volume pairs. wells must be in
// the same column-major order as the table and have the same length.
func BuildPlan(table model.VolumeTable, wells []model.WellID, solution model.SolutionID) (model.DispensePlan, error) {
	if solution == "" {
		return model.DispensePlan{}, ErrEmptySolution
	}
	volumes := make([]float64, 0, table.NumCells())
	var diags []model.Diagnostic
	for j, name := range table.Columns {
		col, missing := ExtractVolumes(table.Column(j), solution)
		for _, row := range missing {
			d := model.Diagnostic{Solution: solution, Column: name, Row: row}
			if row < len(table.RowLabels) {
				d.RowLabel = table.RowLabels[row]
			}
			if pos := len(volumes) + row; pos < len(wells) {
				d.Well = wells[pos]
			}
			diags = append(diags, d)
		}
		volumes = append(volumes, col...)
	}
	if len(volumes) != len(wells) {
		return model.DispensePlan{}, fmt.Errorf("%w: %d volumes for %d wells", ErrLengthMismatch, len(volumes), len(wells))
	}

	p := model.DispensePlan{Solution: solution, Diagnostics: diags}
	for i, v := range volumes {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return model.DispensePlan{}, fmt.Errorf("%w: %v for well %s", ErrInvalidVolume, v, wells[i])
		}
		if v == 0 {
			continue
		}
		p.Entries = append(p.Entries, model.DispenseEntry{Volume: v, Well: wells[i]})
	}
	return p, nil
}
