package plan

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispense/core/model"
)

func cell(s model.SolutionID, v float64) model.Cell { return model.Cell{s: v} }

func wells(ids ...string) []model.WellID {
	out := make([]model.WellID, len(ids))
	for i, id := range ids {
		out[i] = model.WellID(id)
	}
	return out
}

func TestExtractVolumes_Total(t *testing.T) {
	cells := []model.Cell{
		cell("D1", 5),
		{"W": 10},
		cell("D1", 0),
		nil,
		{"D1": 2.5, "W": 1},
	}
	vols, missing := ExtractVolumes(cells, "D1")
	require.Len(t, vols, len(cells))
	assert.Equal(t, []float64{5, 0, 0, 0, 2.5}, vols)
	assert.Equal(t, []int{1, 3}, missing)
}

func TestExtractVolumes_Empty(t *testing.T) {
	vols, missing := ExtractVolumes(nil, "D1")
	if len(vols) != 0 || len(missing) != 0 {
		t.Fatalf("expected empty output, got %v %v", vols, missing)
	}
}

func TestBuildPlan_Example(t *testing.T) {
	table := model.VolumeTable{
		LabelHeader: "row",
		Columns:     []string{"1", "2"},
		RowLabels:   []string{"A", "B"},
		Rows: [][]model.Cell{
			{cell("D1", 5), cell("D1", 0)},
			{cell("D1", 0), cell("D1", 3)},
		},
	}
	p, err := BuildPlan(table, wells("A1", "A2", "B1", "B2"), "D1")
	require.NoError(t, err)
	assert.Equal(t, []model.DispenseEntry{{Volume: 5, Well: "A1"}, {Volume: 3, Well: "B2"}}, p.Entries)
	assert.Empty(t, p.Diagnostics)
	assert.InDelta(t, 8.0, p.Total(), 1e-9)
}

func TestBuildPlan_LengthMismatch(t *testing.T) {
	table := model.VolumeTable{
		Columns:   []string{"1"},
		RowLabels: []string{"A", "B", "C"},
		Rows:      [][]model.Cell{{cell("D1", 1)}, {cell("D1", 2)}, {cell("D1", 3)}},
	}
	_, err := BuildPlan(table, wells("A1", "B1", "C1", "D1"), "D1")
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestBuildPlan_RejectsInvalidVolumes(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		table := model.VolumeTable{
			Columns:   []string{"1"},
			RowLabels: []string{"A", "B"},
			Rows:      [][]model.Cell{{cell("D1", 2)}, {cell("D1", v)}},
		}
		p, err := BuildPlan(table, wells("A1", "B1"), "D1")
		require.ErrorIs(t, err, ErrInvalidVolume, "volume %v", v)
		assert.Empty(t, p.Entries)
	}
}

func TestBuildPlan_EmptySolution(t *testing.T) {
	_, err := BuildPlan(model.VolumeTable{}, nil, "")
	assert.ErrorIs(t, err, ErrEmptySolution)
}

func TestBuildPlan_AllPositiveKeepsEveryWell(t *testing.T) {
	table := model.VolumeTable{
		Columns:   []string{"1", "2"},
		RowLabels: []string{"A", "B"},
		Rows: [][]model.Cell{
			{cell("D1", 1), cell("D1", 3)},
			{cell("D1", 2), cell("D1", 4)},
		},
	}
	ws := wells("A1", "B1", "A2", "B2")
	p, err := BuildPlan(table, ws, "D1")
	require.NoError(t, err)
	require.Len(t, p.Entries, 4)
	for i, e := range p.Entries {
		assert.Equal(t, ws[i], e.Well)
		assert.Equal(t, float64(i+1), e.Volume)
	}
}

func TestBuildPlan_ZeroColumnAndOrder(t *testing.T) {
	table := model.VolumeTable{
		Columns:   []string{"1", "2", "3"},
		RowLabels: []string{"A", "B"},
		Rows: [][]model.Cell{
			{cell("D1", 7), cell("D1", 0), cell("D1", 9)},
			{cell("D1", 8), cell("D1", 0), {"W": 4}},
		},
	}
	p, err := BuildPlan(table, wells("A1", "B1", "A2", "B2", "A3", "B3"), "D1")
	require.NoError(t, err)
	assert.Equal(t, []model.WellID{"A1", "B1", "A3"}, p.Wells())
	for _, e := range p.Entries {
		assert.Greater(t, e.Volume, 0.0)
	}
	require.Len(t, p.Diagnostics, 1)
	assert.Equal(t, model.Diagnostic{Solution: "D1", Column: "3", Row: 1, RowLabel: "B", Well: "B3"}, p.Diagnostics[0])
}

func TestBuildPlan_MissingCellsKeepAlignment(t *testing.T) {
	// A missing solution must not shift later volumes onto earlier wells.
	table := model.VolumeTable{
		Columns:   []string{"1"},
		RowLabels: []string{"A", "B", "C"},
		Rows:      [][]model.Cell{{nil}, {{"W": 2}}, {cell("D1", 6)}},
	}
	p, err := BuildPlan(table, wells("A1", "B1", "C1"), "D1")
	require.NoError(t, err)
	assert.Equal(t, []model.DispenseEntry{{Volume: 6, Well: "C1"}}, p.Entries)
	assert.Len(t, p.Diagnostics, 2)
}
