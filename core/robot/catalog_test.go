package robot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dispense/core/model"
)

func TestWellsForColumnMajor(t *testing.T) {
	def, err := LookupLabware("corning_96_wellplate_360ul_flat")
	require.NoError(t, err)
	wells := WellsFor(def)
	require.Len(t, wells, 96)
	assert.Equal(t, []model.WellID{"A1", "B1", "C1"}, wells[:3])
	assert.Equal(t, model.WellID("H1"), wells[7])
	assert.Equal(t, model.WellID("A2"), wells[8])
	assert.Equal(t, model.WellID("H12"), wells[95])
}

func TestRowName(t *testing.T) {
	assert.Equal(t, "A", rowName(0))
	assert.Equal(t, "Z", rowName(25))
	assert.Equal(t, "AA", rowName(26))
}

func TestNewLabware(t *testing.T) {
	lw, err := NewLabware("opentrons_15_tuberack_5500000ul", 6)
	require.NoError(t, err)
	assert.Len(t, lw.Wells(), 15)
	loc, err := lw.Location("A1")
	require.NoError(t, err)
	assert.Equal(t, Location{Labware: "opentrons_15_tuberack_5500000ul", Slot: 6, Well: "A1"}, loc)
	_, err = lw.Location("H1")
	assert.Error(t, err)

	_, err = NewLabware("corning_96_wellplate_360ul_flat", 12)
	assert.Error(t, err)
	_, err = NewLabware("no_such_plate", 1)
	assert.Error(t, err)
}

func TestParseMount(t *testing.T) {
	m, err := ParseMount("left")
	require.NoError(t, err)
	assert.Equal(t, MountLeft, m)
	_, err = ParseMount("top")
	assert.Error(t, err)
}

func TestLookupPipette(t *testing.T) {
	d, err := LookupPipette("p300_single_gen2")
	require.NoError(t, err)
	assert.Equal(t, 300.0, d.MaxUL)
	_, err = LookupPipette("p50")
	assert.Error(t, err)
}
