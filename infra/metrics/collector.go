package metrics

import (
	"context"

	"github.com/kilianp07/dispense/core/events"
	coremon "github.com/kilianp07/dispense/core/monitoring"
	"github.com/kilianp07/dispense/infra/logger"
	"github.com/kilianp07/dispense/internal/eventbus"
)

// StartEventCollector subscribes to the event bus, logs protocol progress and
// reports failed transfers to the error monitor. It stops when the context is
// canceled or the bus is closed. The returned channel is closed on exit.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus[events.Event], log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil {
		close(done)
		return done
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.PlanEvent:
					log.Infof("plan %s: %d wells, %.2f µL of %s", e.Transfer, e.Wells, e.Total, e.Solution)
					if e.Missing > 0 {
						log.Warnf("plan %s: %d cells do not mention %s", e.Transfer, e.Missing, e.Solution)
					}
				case events.TransferEvent:
					switch e.Phase {
					case events.PhaseStarted:
						log.Debugf("transfer %s started (%d wells)", e.Transfer, e.Wells)
					case events.PhaseCompleted:
						log.Infof("transfer %s completed: %.2f µL in %d wells", e.Transfer, e.Volume, e.Wells)
					case events.PhaseFailed:
						log.Errorf("transfer %s failed: %v", e.Transfer, e.Err)
						coremon.CaptureException(e.Err, map[string]string{"run_id": e.RunID, "transfer": e.Transfer})
					}
				case events.TipEvent:
					if e.Err != nil {
						coremon.CaptureException(e.Err, map[string]string{"pipette": e.Pipette, "action": string(e.Action)})
					}
				}
			}
		}
	}()
	return done
}
