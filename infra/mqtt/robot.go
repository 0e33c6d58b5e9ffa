package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/dispense/core/factory"
	"github.com/kilianp07/dispense/core/robot"
)

func init() {
	_ = robot.RegisterDriver("mqtt", func(conf map[string]any) (robot.Robot, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewRobot(c)
	})
}

// Robot forwards every primitive to a bridge process that owns the hardware.
// Labware geometry is resolved locally from the catalog.
type Robot struct {
	client *Client
	mu     sync.Mutex
	deck   map[int]*robot.Labware
}

// NewRobot connects to the broker described by cfg.
func NewRobot(cfg Config) (*Robot, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	return newRobot(c), nil
}

func newRobot(c *Client) *Robot {
	return &Robot{client: c, deck: make(map[int]*robot.Labware)}
}

func (r *Robot) LoadLabware(ctx context.Context, loadName string, slot int) (*robot.Labware, error) {
	lw, err := robot.NewLabware(loadName, slot)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	_, taken := r.deck[slot]
	r.mu.Unlock()
	if taken {
		return nil, fmt.Errorf("deck slot %d occupied", slot)
	}
	if err := r.client.Send(ctx, Command{Action: "load_labware", LoadName: loadName, Slot: slot}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.deck[slot] = lw
	r.mu.Unlock()
	return lw, nil
}

func (r *Robot) LoadInstrument(ctx context.Context, name string, mount robot.Mount, tipRacks []*robot.Labware) (robot.Pipette, error) {
	def, err := robot.LookupPipette(name)
	if err != nil {
		return nil, err
	}
	slots := make([]int, len(tipRacks))
	for i, lw := range tipRacks {
		if !lw.IsTipRack() {
			return nil, fmt.Errorf("%s is not a tip rack", lw)
		}
		slots[i] = lw.Slot
	}
	if err := r.client.Send(ctx, Command{Action: "load_instrument", Pipette: name, Mount: mount, TipRacks: slots}); err != nil {
		return nil, err
	}
	return &Pipette{client: r.client, def: def, mount: mount}, nil
}

// Close disconnects from the broker.
func (r *Robot) Close() error {
	r.client.Disconnect()
	return nil
}

// Pipette sends pipette primitives to the bridge. Tip state is tracked
// locally from successful acknowledgments.
type Pipette struct {
	client *Client
	def    robot.PipetteDef
	mount  robot.Mount

	mu     sync.Mutex
	hasTip bool
}

func (p *Pipette) Name() string       { return p.def.Name }
func (p *Pipette) Mount() robot.Mount { return p.mount }
func (p *Pipette) MinVolume() float64 { return p.def.MinUL }
func (p *Pipette) MaxVolume() float64 { return p.def.MaxUL }

func (p *Pipette) HasTip() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasTip
}

func (p *Pipette) send(ctx context.Context, cmd Command) error {
	cmd.Pipette = p.def.Name
	cmd.Mount = p.mount
	return p.client.Send(ctx, cmd)
}

func (p *Pipette) PickUpTip(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.send(ctx, Command{Action: "pick_up_tip"}); err != nil {
		return err
	}
	p.hasTip = true
	return nil
}

func (p *Pipette) DropTip(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.send(ctx, Command{Action: "drop_tip"}); err != nil {
		return err
	}
	p.hasTip = false
	return nil
}

func (p *Pipette) Aspirate(ctx context.Context, volume float64, loc robot.Location, rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(ctx, Command{Action: "aspirate", Volume: volume, Location: &loc, Rate: rate})
}

func (p *Pipette) Dispense(ctx context.Context, volume float64, loc robot.Location, rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(ctx, Command{Action: "dispense", Volume: volume, Location: &loc, Rate: rate})
}

func (p *Pipette) TouchTip(ctx context.Context, vOffset, speed float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(ctx, Command{Action: "touch_tip", VOffset: vOffset, Speed: speed})
}

func (p *Pipette) Transfer(ctx context.Context, volumes []float64, source robot.Location, dests []robot.Location, policy robot.TipPolicy) error {
	if len(volumes) != len(dests) {
		return fmt.Errorf("transfer: %d volumes for %d destinations", len(volumes), len(dests))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(ctx, Command{Action: "transfer", Volumes: volumes, Location: &source, Locations: dests, TipPolicy: policy})
}
