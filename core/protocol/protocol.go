package protocol

import (
	"errors"
	"fmt"

	"github.com/kilianp07/dispense/core/dispense"
	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/core/robot"
)

// ErrInvalidProtocol is wrapped by every Validate failure.
var ErrInvalidProtocol = errors.New("invalid protocol")

// Metadata describes the protocol.
type Metadata struct {
	APILevel    string `json:"api_level"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// LabwareSpec places a catalog labware in a deck slot under an id.
type LabwareSpec struct {
	ID       string `json:"id"`
	LoadName string `json:"load_name"`
	Slot     int    `json:"slot"`
}

// InstrumentSpec mounts a pipette drawing tips from the listed tip racks.
type InstrumentSpec struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Mount    robot.Mount `json:"mount"`
	TipRacks []string    `json:"tip_racks"`
}

// SourceSpec is the well liquid is aspirated from.
type SourceSpec struct {
	Labware string       `json:"labware"`
	Well    model.WellID `json:"well"`
}

// TransferSpec distributes one solution from a source into a plate following
// a volume table.
type TransferSpec struct {
	Name     string           `json:"name"`
	Pipette  string           `json:"pipette"`
	Plate    string           `json:"plate"`
	Table    string           `json:"table"`
	Solution model.SolutionID `json:"solution"`
	Source   SourceSpec       `json:"source"`
	// Strategy is "manual" (default) or "transfer".
	Strategy string `json:"strategy"`
	// FlowRate overrides the dispense flow rate when positive.
	FlowRate float64 `json:"flow_rate"`
}

// Protocol is the full run description.
type Protocol struct {
	Metadata    Metadata         `json:"metadata"`
	Labware     []LabwareSpec    `json:"labware"`
	Instruments []InstrumentSpec `json:"instruments"`
	Transfers   []TransferSpec   `json:"transfers"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProtocol, fmt.Sprintf(format, args...))
}

// Validate checks every reference and catalog name without touching a robot.
//
//nolint:gocyclo
func (p Protocol) Validate() error {
	labware := make(map[string]robot.LabwareDef, len(p.Labware))
	slots := make(map[int]string, len(p.Labware))
	for _, l := range p.Labware {
		if l.ID == "" {
			return invalid("labware in slot %d has no id", l.Slot)
		}
		if _, dup := labware[l.ID]; dup {
			return invalid("duplicate labware id %s", l.ID)
		}
		if err := robot.ValidateSlot(l.Slot); err != nil {
			return invalid("labware %s: %v", l.ID, err)
		}
		if other, taken := slots[l.Slot]; taken {
			return invalid("labware %s and %s share slot %d", other, l.ID, l.Slot)
		}
		def, err := robot.LookupLabware(l.LoadName)
		if err != nil {
			return invalid("labware %s: %v", l.ID, err)
		}
		labware[l.ID] = def
		slots[l.Slot] = l.ID
	}

	instruments := make(map[string]bool, len(p.Instruments))
	mounts := make(map[robot.Mount]string, 2)
	for _, in := range p.Instruments {
		if in.ID == "" {
			return invalid("instrument %s has no id", in.Name)
		}
		if instruments[in.ID] {
			return invalid("duplicate instrument id %s", in.ID)
		}
		if _, err := robot.LookupPipette(in.Name); err != nil {
			return invalid("instrument %s: %v", in.ID, err)
		}
		if _, err := robot.ParseMount(string(in.Mount)); err != nil {
			return invalid("instrument %s: %v", in.ID, err)
		}
		if other, taken := mounts[in.Mount]; taken {
			return invalid("instruments %s and %s share the %s mount", other, in.ID, in.Mount)
		}
		if len(in.TipRacks) == 0 {
			return invalid("instrument %s has no tip rack", in.ID)
		}
		for _, rack := range in.TipRacks {
			def, ok := labware[rack]
			if !ok {
				return invalid("instrument %s: unknown tip rack %s", in.ID, rack)
			}
			if def.Kind != robot.KindTipRack {
				return invalid("instrument %s: %s is not a tip rack", in.ID, rack)
			}
		}
		instruments[in.ID] = true
		mounts[in.Mount] = in.ID
	}

	if len(p.Transfers) == 0 {
		return invalid("no transfer declared")
	}
	names := make(map[string]bool, len(p.Transfers))
	for i, t := range p.Transfers {
		if t.Name == "" {
			return invalid("transfer %d has no name", i)
		}
		if names[t.Name] {
			return invalid("duplicate transfer name %s", t.Name)
		}
		names[t.Name] = true
		if !instruments[t.Pipette] {
			return invalid("transfer %s: unknown pipette %s", t.Name, t.Pipette)
		}
		plate, ok := labware[t.Plate]
		if !ok {
			return invalid("transfer %s: unknown plate %s", t.Name, t.Plate)
		}
		if plate.Kind == robot.KindTipRack {
			return invalid("transfer %s: plate %s is a tip rack", t.Name, t.Plate)
		}
		src, ok := labware[t.Source.Labware]
		if !ok {
			return invalid("transfer %s: unknown source labware %s", t.Name, t.Source.Labware)
		}
		if !hasWell(src, t.Source.Well) {
			return invalid("transfer %s: source well %s not on %s", t.Name, t.Source.Well, t.Source.Labware)
		}
		if t.Table == "" {
			return invalid("transfer %s has no table", t.Name)
		}
		if t.Solution == "" {
			return invalid("transfer %s has no solution", t.Name)
		}
		if _, err := dispense.ParseStrategy(t.Strategy); err != nil {
			return invalid("transfer %s: %v", t.Name, err)
		}
		if t.FlowRate < 0 {
			return invalid("transfer %s: negative flow rate", t.Name)
		}
	}
	return nil
}

func hasWell(def robot.LabwareDef, well model.WellID) bool {
	for _, w := range robot.WellsFor(def) {
		if w == well {
			return true
		}
	}
	return false
}

// LabwareByID returns the labware declared under id.
func (p Protocol) LabwareByID(id string) (LabwareSpec, bool) {
	for _, l := range p.Labware {
		if l.ID == id {
			return l, true
		}
	}
	return LabwareSpec{}, false
}

// InstrumentByID returns the instrument declared under id.
func (p Protocol) InstrumentByID(id string) (InstrumentSpec, bool) {
	for _, in := range p.Instruments {
		if in.ID == id {
			return in, true
		}
	}
	return InstrumentSpec{}, false
}
