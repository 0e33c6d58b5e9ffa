package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/dispense/core/events"
	coremon "github.com/kilianp07/dispense/core/monitoring"
	"github.com/kilianp07/dispense/internal/eventbus"
)

type captureMonitor struct {
	mu   sync.Mutex
	tags []map[string]string
}

func (c *captureMonitor) CaptureException(_ error, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tags)
}
func (c *captureMonitor) CapturePanic(any)    {}
func (c *captureMonitor) Flush(time.Duration) {}

func TestEventCollectorReportsFailures(t *testing.T) {
	mon := &captureMonitor{}
	coremon.Init(mon)
	defer coremon.Init(nil)

	bus := eventbus.New[events.Event]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := StartEventCollector(ctx, bus, nil)

	bus.Publish(events.PlanEvent{Transfer: "buffer", Solution: "W", Wells: 2, Missing: 1})
	bus.Publish(events.TransferEvent{RunID: "r1", Transfer: "buffer", Phase: events.PhaseFailed, Err: errors.New("no tip")})
	bus.Publish(events.TransferEvent{RunID: "r1", Transfer: "drug", Phase: events.PhaseCompleted})

	deadline := time.After(time.Second)
	for {
		mon.mu.Lock()
		n := len(mon.tags)
		mon.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("failure not captured")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if mon.tags[0]["transfer"] != "buffer" || mon.tags[0]["run_id"] != "r1" {
		t.Fatalf("unexpected tags: %v", mon.tags[0])
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("collector did not stop")
	}
}

func TestEventCollectorNilBus(t *testing.T) {
	done := StartEventCollector(context.Background(), nil, nil)
	select {
	case <-done:
	default:
		t.Fatalf("expected closed channel for nil bus")
	}
}
