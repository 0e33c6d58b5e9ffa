package robot

import (
	"fmt"
	"sort"

	"github.com/kilianp07/dispense/core/model"
)

// LabwareKind groups catalog entries by role on the deck.
type LabwareKind string

const (
	KindTipRack   LabwareKind = "tiprack"
	KindWellPlate LabwareKind = "wellplate"
	KindTubeRack  LabwareKind = "tuberack"
)

// LabwareDef is the catalog geometry of a labware.
type LabwareDef struct {
	LoadName  string
	Kind      LabwareKind
	Rows      int
	Columns   int
	WellMaxUL float64
	// TipMaxUL is the tip capacity for tip racks.
	TipMaxUL float64
}

// NumWells returns rows × columns.
func (d LabwareDef) NumWells() int { return d.Rows * d.Columns }

// PipetteDef is the catalog description of a pipette model.
type PipetteDef struct {
	Name     string
	Channels int
	MinUL    float64
	MaxUL    float64
}

var labwareCatalog = map[string]LabwareDef{
	"opentrons_96_tiprack_20ul":                 {LoadName: "opentrons_96_tiprack_20ul", Kind: KindTipRack, Rows: 8, Columns: 12, TipMaxUL: 20},
	"opentrons_96_tiprack_300ul":                {LoadName: "opentrons_96_tiprack_300ul", Kind: KindTipRack, Rows: 8, Columns: 12, TipMaxUL: 300},
	"opentrons_96_tiprack_1000ul":               {LoadName: "opentrons_96_tiprack_1000ul", Kind: KindTipRack, Rows: 8, Columns: 12, TipMaxUL: 1000},
	"corning_96_wellplate_360ul_flat":           {LoadName: "corning_96_wellplate_360ul_flat", Kind: KindWellPlate, Rows: 8, Columns: 12, WellMaxUL: 360},
	"nest_96_wellplate_2ml_deep":                {LoadName: "nest_96_wellplate_2ml_deep", Kind: KindWellPlate, Rows: 8, Columns: 12, WellMaxUL: 2000},
	"corning_24_wellplate_3.4ml_flat":           {LoadName: "corning_24_wellplate_3.4ml_flat", Kind: KindWellPlate, Rows: 4, Columns: 6, WellMaxUL: 3400},
	"opentrons_15_tuberack_falcon_15ml_conical": {LoadName: "opentrons_15_tuberack_falcon_15ml_conical", Kind: KindTubeRack, Rows: 3, Columns: 5, WellMaxUL: 15000},
	// Custom definition loaded by the amphiphile screening protocols.
	"opentrons_15_tuberack_5500000ul": {LoadName: "opentrons_15_tuberack_5500000ul", Kind: KindTubeRack, Rows: 3, Columns: 5, WellMaxUL: 5500000},
}

var pipetteCatalog = map[string]PipetteDef{
	"p20_single_gen2":   {Name: "p20_single_gen2", Channels: 1, MinUL: 1, MaxUL: 20},
	"p300_single_gen2":  {Name: "p300_single_gen2", Channels: 1, MinUL: 20, MaxUL: 300},
	"p1000_single_gen2": {Name: "p1000_single_gen2", Channels: 1, MinUL: 100, MaxUL: 1000},
}

// LookupLabware returns the catalog definition for loadName.
func LookupLabware(loadName string) (LabwareDef, error) {
	d, ok := labwareCatalog[loadName]
	if !ok {
		return LabwareDef{}, fmt.Errorf("unknown labware %q", loadName)
	}
	return d, nil
}

// LookupPipette returns the catalog definition for a pipette model.
func LookupPipette(name string) (PipetteDef, error) {
	d, ok := pipetteCatalog[name]
	if !ok {
		return PipetteDef{}, fmt.Errorf("unknown pipette %q", name)
	}
	return d, nil
}

// LabwareNames lists the catalog load names.
func LabwareNames() []string {
	out := make([]string, 0, len(labwareCatalog))
	for k := range labwareCatalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// WellsFor enumerates the wells of a labware column by column (A1, B1, ... H1,
// A2, ...), the order in which volume tables are flattened.
func WellsFor(def LabwareDef) []model.WellID {
	out := make([]model.WellID, 0, def.NumWells())
	for c := 1; c <= def.Columns; c++ {
		for r := 0; r < def.Rows; r++ {
			out = append(out, model.WellID(fmt.Sprintf("%s%d", rowName(r), c)))
		}
	}
	return out
}

// rowName maps 0 → A, 25 → Z, 26 → AA.
func rowName(r int) string {
	name := ""
	for r >= 0 {
		name = string(rune('A'+r%26)) + name
		r = r/26 - 1
	}
	return name
}
