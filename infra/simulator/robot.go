// Package simulator provides an in-memory robot that enforces the deck, tip
// and volume rules of a real liquid handler. It backs dry runs and tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/dispense/core/factory"
	"github.com/kilianp07/dispense/core/logger"
	"github.com/kilianp07/dispense/core/robot"
)

var (
	ErrSlotOccupied       = errors.New("deck slot occupied")
	ErrMountOccupied      = errors.New("mount occupied")
	ErrNotTipRack         = errors.New("labware is not a tip rack")
	ErrNoTip              = errors.New("no tip attached")
	ErrTipAttached        = errors.New("tip already attached")
	ErrOutOfTips          = errors.New("out of tips")
	ErrOverCapacity       = errors.New("volume exceeds pipette capacity")
	ErrInsufficientVolume = errors.New("not enough liquid in tip")
	ErrWellOverflow       = errors.New("well capacity exceeded")
	ErrUnknownLocation    = errors.New("location not on deck")
	ErrClosed             = errors.New("robot closed")
)

// Config tunes the simulated robot.
type Config struct {
	// StrictWellCapacity fails dispenses that overflow the destination well.
	StrictWellCapacity bool `json:"strict_well_capacity"`
}

// Command is one primitive executed by the simulator.
type Command struct {
	Pipette  string
	Action   string
	Volume   float64
	Location robot.Location
	Rate     float64
}

// Robot is the simulated deck. All pipettes share its lock so only one
// primitive runs at a time.
type Robot struct {
	mu       sync.Mutex
	cfg      Config
	log      logger.Logger
	deck     map[int]*robot.Labware
	mounts   map[robot.Mount]*Pipette
	ledger   map[robot.Location]float64
	tipsUsed map[int]int
	commands []Command
	closed   bool
}

func init() {
	_ = robot.RegisterDriver("simulator", func(conf map[string]any) (robot.Robot, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return New(c, nil), nil
	})
}

// New creates an empty simulated deck.
func New(cfg Config, log logger.Logger) *Robot {
	return &Robot{
		cfg:      cfg,
		log:      logger.OrNop(log),
		deck:     make(map[int]*robot.Labware),
		mounts:   make(map[robot.Mount]*Pipette),
		ledger:   make(map[robot.Location]float64),
		tipsUsed: make(map[int]int),
	}
}

// LoadLabware places a catalog labware in an empty slot.
func (r *Robot) LoadLabware(ctx context.Context, loadName string, slot int) (*robot.Labware, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if existing, ok := r.deck[slot]; ok {
		return nil, fmt.Errorf("%w: slot %d holds %s", ErrSlotOccupied, slot, existing.LoadName)
	}
	lw, err := robot.NewLabware(loadName, slot)
	if err != nil {
		return nil, err
	}
	r.deck[slot] = lw
	r.commands = append(r.commands, Command{Action: "load_labware", Location: robot.Location{Labware: loadName, Slot: slot}})
	r.log.Debugf("loaded %s in slot %d", loadName, slot)
	return lw, nil
}

// LoadInstrument mounts a pipette that draws tips from tipRacks in order.
func (r *Robot) LoadInstrument(ctx context.Context, name string, mount robot.Mount, tipRacks []*robot.Labware) (robot.Pipette, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	def, err := robot.LookupPipette(name)
	if err != nil {
		return nil, err
	}
	if _, err := robot.ParseMount(string(mount)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if existing, ok := r.mounts[mount]; ok {
		return nil, fmt.Errorf("%w: %s holds %s", ErrMountOccupied, mount, existing.def.Name)
	}
	racks := make([]*robot.Labware, 0, len(tipRacks))
	for _, lw := range tipRacks {
		if !lw.IsTipRack() {
			return nil, fmt.Errorf("%w: %s", ErrNotTipRack, lw)
		}
		if r.deck[lw.Slot] != lw {
			return nil, fmt.Errorf("%w: tip rack %s", ErrUnknownLocation, lw)
		}
		racks = append(racks, lw)
	}
	p := &Pipette{robot: r, def: def, mount: mount, racks: racks}
	r.mounts[mount] = p
	r.commands = append(r.commands, Command{Pipette: name, Action: "load_instrument"})
	return p, nil
}

// Close marks the robot as closed. Loaded pipettes reject further commands.
func (r *Robot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Commands returns a copy of the executed command log.
func (r *Robot) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// WellVolume returns the net volume moved into loc; sources are negative.
func (r *Robot) WellVolume(loc robot.Location) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger[loc]
}

// checkLocation must be called with r.mu held.
func (r *Robot) checkLocation(loc robot.Location) (*robot.Labware, error) {
	lw, ok := r.deck[loc.Slot]
	if !ok || lw.LoadName != loc.Labware || !lw.Has(loc.Well) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, loc)
	}
	return lw, nil
}
