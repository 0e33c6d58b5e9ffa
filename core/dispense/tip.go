package dispense

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/dispense/core/events"
	"github.com/kilianp07/dispense/core/robot"
)

// TipHook observes the scoped tip lifecycle.
type TipHook func(action events.TipAction, err error)

// WithTip picks up a tip, runs fn and drops the tip whatever fn returns,
// including on panic. The drop runs on a context detached from ctx's
// cancellation so a cancelled run never leaves a tip attached.
func WithTip(ctx context.Context, p robot.Pipette, fn func(ctx context.Context) error, hooks ...TipHook) (err error) {
	notify := func(a events.TipAction, e error) {
		for _, h := range hooks {
			h(a, e)
		}
	}
	if perr := p.PickUpTip(ctx); perr != nil {
		notify(events.TipPickUp, perr)
		return fmt.Errorf("pick up tip: %w", perr)
	}
	notify(events.TipPickUp, nil)
	defer func() {
		derr := p.DropTip(context.WithoutCancel(ctx))
		notify(events.TipDrop, derr)
		if derr != nil {
			err = errors.Join(err, fmt.Errorf("drop tip: %w", derr))
		}
	}()
	return fn(ctx)
}
