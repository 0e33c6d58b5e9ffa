package robot

import (
	"fmt"

	"github.com/kilianp07/dispense/core/model"
)

// MinSlot and MaxSlot bound the deck slot numbers.
const (
	MinSlot = 1
	MaxSlot = 11
)

// Labware is a catalog fixture placed in a deck slot.
type Labware struct {
	LoadName string
	Slot     int
	Def      LabwareDef

	wells []model.WellID
	index map[model.WellID]int
}

// NewLabware resolves loadName in the catalog and places it in slot.
func NewLabware(loadName string, slot int) (*Labware, error) {
	if err := ValidateSlot(slot); err != nil {
		return nil, err
	}
	def, err := LookupLabware(loadName)
	if err != nil {
		return nil, err
	}
	wells := WellsFor(def)
	index := make(map[model.WellID]int, len(wells))
	for i, w := range wells {
		index[w] = i
	}
	return &Labware{LoadName: loadName, Slot: slot, Def: def, wells: wells, index: index}, nil
}

// ValidateSlot checks that slot exists on the deck.
func ValidateSlot(slot int) error {
	if slot < MinSlot || slot > MaxSlot {
		return fmt.Errorf("deck slot %d out of range %d-%d", slot, MinSlot, MaxSlot)
	}
	return nil
}

// Wells returns the wells in column-major order.
func (l *Labware) Wells() []model.WellID {
	out := make([]model.WellID, len(l.wells))
	copy(out, l.wells)
	return out
}

// Has reports whether the labware contains well.
func (l *Labware) Has(well model.WellID) bool {
	_, ok := l.index[well]
	return ok
}

// Location returns the address of well, or an error when it does not exist.
func (l *Labware) Location(well model.WellID) (Location, error) {
	if !l.Has(well) {
		return Location{}, fmt.Errorf("well %s not on %s", well, l.LoadName)
	}
	return Location{Labware: l.LoadName, Slot: l.Slot, Well: well}, nil
}

// IsTipRack reports whether tips can be picked up from this labware.
func (l *Labware) IsTipRack() bool { return l.Def.Kind == KindTipRack }

func (l *Labware) String() string { return fmt.Sprintf("%s@%d", l.LoadName, l.Slot) }
