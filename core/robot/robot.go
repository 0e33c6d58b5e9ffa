// Package robot describes the liquid-handling robot collaborator: deck
// labware, mounted pipettes and the primitives a protocol may call. Drivers
// live under infra/ and are selected through the registry in this package.
package robot

import (
	"context"
	"fmt"

	"github.com/kilianp07/dispense/core/model"
)

// Mount is the side a pipette is attached to.
type Mount string

const (
	MountLeft  Mount = "left"
	MountRight Mount = "right"
)

// ParseMount validates a mount name.
func ParseMount(s string) (Mount, error) {
	switch Mount(s) {
	case MountLeft, MountRight:
		return Mount(s), nil
	default:
		return "", fmt.Errorf("unknown mount %q", s)
	}
}

// TipPolicy tells a bulk transfer when to replace tips.
type TipPolicy string

const (
	// TipNever uses the tip already attached to the pipette.
	TipNever TipPolicy = "never"
	// TipOnce picks up one tip for the whole transfer.
	TipOnce TipPolicy = "once"
	// TipAlways uses a fresh tip for every destination.
	TipAlways TipPolicy = "always"
)

// Location addresses one well of a loaded labware.
type Location struct {
	Labware string       `json:"labware"`
	Slot    int          `json:"slot"`
	Well    model.WellID `json:"well"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s[%d]/%s", l.Labware, l.Slot, l.Well)
}

// Robot loads labware and instruments on the deck.
type Robot interface {
	LoadLabware(ctx context.Context, loadName string, slot int) (*Labware, error)
	LoadInstrument(ctx context.Context, name string, mount Mount, tipRacks []*Labware) (Pipette, error)
	Close() error
}

// Pipette is a mounted liquid-handling instrument. Volumes are in µL, rates
// are multipliers of the pipette default flow rate.
type Pipette interface {
	Name() string
	Mount() Mount
	MinVolume() float64
	MaxVolume() float64
	HasTip() bool

	PickUpTip(ctx context.Context) error
	DropTip(ctx context.Context) error
	Aspirate(ctx context.Context, volume float64, loc Location, rate float64) error
	Dispense(ctx context.Context, volume float64, loc Location, rate float64) error
	// TouchTip touches the tip to the well walls, vOffset mm from the top at
	// speed mm/s.
	TouchTip(ctx context.Context, vOffset, speed float64) error
	// Transfer moves volumes[i] from source into dests[i] for every i.
	Transfer(ctx context.Context, volumes []float64, source Location, dests []Location, policy TipPolicy) error
}
