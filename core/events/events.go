package events

import (
	"time"

	"github.com/kilianp07/dispense/core/model"
)

// Event is anything published on the protocol bus.
type Event interface {
	EventTime() time.Time
}

// PlanEvent is published once per transfer after its plan is built.
type PlanEvent struct {
	Transfer string
	Solution model.SolutionID
	Wells    int
	Total    float64
	Missing  int
	Time     time.Time
}

func (e PlanEvent) EventTime() time.Time { return e.Time }

// TipAction is "pick_up" or "drop".
type TipAction string

const (
	TipPickUp TipAction = "pick_up"
	TipDrop   TipAction = "drop"
)

// TipEvent is published around every scoped tip use.
type TipEvent struct {
	Pipette string
	Action  TipAction
	Err     error
	Time    time.Time
}

func (e TipEvent) EventTime() time.Time { return e.Time }

// TransferPhase is the stage of a transfer reported by TransferEvent.
type TransferPhase string

const (
	PhaseStarted   TransferPhase = "started"
	PhaseCompleted TransferPhase = "completed"
	PhaseFailed    TransferPhase = "failed"
)

// TransferEvent tracks the progress of one transfer.
type TransferEvent struct {
	RunID    string
	Transfer string
	Phase    TransferPhase
	Wells    int
	Volume   float64
	Err      error
	Time     time.Time
}

func (e TransferEvent) EventTime() time.Time { return e.Time }
