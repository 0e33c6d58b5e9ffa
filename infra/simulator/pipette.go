package simulator

import (
	"context"
	"fmt"
	"math"

	"github.com/kilianp07/dispense/core/robot"
)

// volumeEpsilon absorbs float rounding when a tip is emptied exactly.
const volumeEpsilon = 1e-9

// Pipette is a simulated single-channel pipette.
type Pipette struct {
	robot *Robot
	def   robot.PipetteDef
	mount robot.Mount
	racks []*robot.Labware

	tipsTaken int
	hasTip    bool
	tipMax    float64
	held      float64
}

func (p *Pipette) Name() string       { return p.def.Name }
func (p *Pipette) Mount() robot.Mount { return p.mount }
func (p *Pipette) MinVolume() float64 { return p.def.MinUL }
func (p *Pipette) MaxVolume() float64 { return p.def.MaxUL }

func (p *Pipette) HasTip() bool {
	p.robot.mu.Lock()
	defer p.robot.mu.Unlock()
	return p.hasTip
}

// Held returns the liquid currently in the tip.
func (p *Pipette) Held() float64 {
	p.robot.mu.Lock()
	defer p.robot.mu.Unlock()
	return p.held
}

// TipsUsed returns how many tips were taken from the racks.
func (p *Pipette) TipsUsed() int {
	p.robot.mu.Lock()
	defer p.robot.mu.Unlock()
	return p.tipsTaken
}

func (p *Pipette) PickUpTip(ctx context.Context) error {
	return p.locked(ctx, p.pickUp)
}

func (p *Pipette) DropTip(ctx context.Context) error {
	return p.locked(ctx, p.drop)
}

func (p *Pipette) Aspirate(ctx context.Context, volume float64, loc robot.Location, rate float64) error {
	return p.locked(ctx, func() error { return p.aspirate(volume, loc, rate) })
}

func (p *Pipette) Dispense(ctx context.Context, volume float64, loc robot.Location, rate float64) error {
	return p.locked(ctx, func() error { return p.dispense(volume, loc, rate) })
}

func (p *Pipette) TouchTip(ctx context.Context, vOffset, speed float64) error {
	return p.locked(ctx, func() error {
		if !p.hasTip {
			return ErrNoTip
		}
		if speed <= 0 {
			return fmt.Errorf("touch tip speed must be positive, got %v", speed)
		}
		p.record(Command{Action: "touch_tip", Volume: vOffset, Rate: speed})
		return nil
	})
}

// Transfer moves volumes[i] into dests[i]. Volumes above the pipette capacity
// are split into equal chunks.
func (p *Pipette) Transfer(ctx context.Context, volumes []float64, source robot.Location, dests []robot.Location, policy robot.TipPolicy) error {
	if len(volumes) != len(dests) {
		return fmt.Errorf("transfer: %d volumes for %d destinations", len(volumes), len(dests))
	}
	return p.locked(ctx, func() error {
		switch policy {
		case robot.TipNever:
			if !p.hasTip {
				return ErrNoTip
			}
		case robot.TipOnce:
			if err := p.pickUp(); err != nil {
				return err
			}
		case robot.TipAlways:
		default:
			return fmt.Errorf("unknown tip policy %q", policy)
		}
		for i, v := range volumes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if policy == robot.TipAlways {
				if err := p.pickUp(); err != nil {
					return err
				}
			}
			if err := p.move(v, source, dests[i]); err != nil {
				return err
			}
			if policy == robot.TipAlways {
				if err := p.drop(); err != nil {
					return err
				}
			}
		}
		if policy == robot.TipOnce {
			return p.drop()
		}
		return nil
	})
}

func (p *Pipette) move(v float64, source, dest robot.Location) error {
	capacity := p.capacity()
	chunks := int(math.Ceil(v / capacity))
	if chunks < 1 {
		chunks = 1
	}
	part := v / float64(chunks)
	for c := 0; c < chunks; c++ {
		if err := p.aspirate(part, source, 1); err != nil {
			return err
		}
		if err := p.dispense(part, dest, 1); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipette) locked(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.robot.mu.Lock()
	defer p.robot.mu.Unlock()
	if p.robot.closed {
		return ErrClosed
	}
	return fn()
}

func (p *Pipette) capacity() float64 {
	if p.tipMax > 0 && p.tipMax < p.def.MaxUL {
		return p.tipMax
	}
	return p.def.MaxUL
}

func (p *Pipette) pickUp() error {
	if p.hasTip {
		return ErrTipAttached
	}
	for _, lw := range p.racks {
		if p.robot.tipsUsed[lw.Slot] < lw.Def.NumWells() {
			p.robot.tipsUsed[lw.Slot]++
			p.tipsTaken++
			p.hasTip = true
			p.tipMax = lw.Def.TipMaxUL
			p.held = 0
			p.record(Command{Action: "pick_up_tip", Location: robot.Location{Labware: lw.LoadName, Slot: lw.Slot}})
			return nil
		}
	}
	return fmt.Errorf("%w on %s", ErrOutOfTips, p.def.Name)
}

func (p *Pipette) drop() error {
	if !p.hasTip {
		return ErrNoTip
	}
	p.hasTip = false
	p.held = 0
	p.record(Command{Action: "drop_tip"})
	return nil
}

func (p *Pipette) aspirate(v float64, loc robot.Location, rate float64) error {
	if !p.hasTip {
		return ErrNoTip
	}
	if v <= 0 || rate <= 0 {
		return fmt.Errorf("aspirate: volume %v and rate %v must be positive", v, rate)
	}
	if _, err := p.robot.checkLocation(loc); err != nil {
		return err
	}
	if p.held+v > p.capacity()+volumeEpsilon {
		return fmt.Errorf("%w: %.2f + %.2f > %.2f µL", ErrOverCapacity, p.held, v, p.capacity())
	}
	p.held += v
	p.robot.ledger[loc] -= v
	p.record(Command{Action: "aspirate", Volume: v, Location: loc, Rate: rate})
	return nil
}

func (p *Pipette) dispense(v float64, loc robot.Location, rate float64) error {
	if !p.hasTip {
		return ErrNoTip
	}
	if v <= 0 || rate <= 0 {
		return fmt.Errorf("dispense: volume %v and rate %v must be positive", v, rate)
	}
	lw, err := p.robot.checkLocation(loc)
	if err != nil {
		return err
	}
	if v > p.held+volumeEpsilon {
		return fmt.Errorf("%w: %.2f > %.2f µL", ErrInsufficientVolume, v, p.held)
	}
	if p.robot.cfg.StrictWellCapacity && lw.Def.WellMaxUL > 0 && p.robot.ledger[loc]+v > lw.Def.WellMaxUL+volumeEpsilon {
		return fmt.Errorf("%w: %s", ErrWellOverflow, loc)
	}
	p.held = math.Max(0, p.held-v)
	p.robot.ledger[loc] += v
	p.record(Command{Action: "dispense", Volume: v, Location: loc, Rate: rate})
	return nil
}

// record must be called with the robot lock held.
func (p *Pipette) record(c Command) {
	c.Pipette = p.def.Name
	p.robot.commands = append(p.robot.commands, c)
}
