package dispense

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/dispense/core/events"
	"github.com/kilianp07/dispense/core/logger"
	"github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/core/robot"
	"github.com/kilianp07/dispense/internal/eventbus"
)

var (
	ErrExceedsCapacity    = errors.New("plan total exceeds pipette capacity")
	ErrUnknownWell        = errors.New("well not on destination labware")
	ErrInvalidVolume      = errors.New("invalid dispense volume")
	ErrInvalidFlowRate    = errors.New("flow rate must be positive")
	ErrTipAlreadyAttached = errors.New("pipette already holds a tip")
)

// Job is one plan to execute with one pipette.
type Job struct {
	RunID       string
	Name        string
	Pipette     robot.Pipette
	Plan        model.DispensePlan
	Destination *robot.Labware
	Source      robot.Location
	Strategy    Strategy
	// FlowRate overrides Config.FlowRate when positive.
	FlowRate float64
}

// Result describes what an executed job delivered.
type Result struct {
	Wells    int
	Volume   float64
	Skipped  bool
	Duration time.Duration
}

// Executor runs dispense jobs against robot pipettes.
type Executor struct {
	cfg     Config
	log     logger.Logger
	metrics metrics.MetricsSink
	bus     eventbus.EventBus[events.Event]
	now     func() time.Time
}

// NewExecutor creates an Executor. Nil logger, sink and bus are allowed.
func NewExecutor(cfg Config, log logger.Logger, sink metrics.MetricsSink, bus eventbus.EventBus[events.Event]) *Executor {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Executor{cfg: cfg, log: logger.OrNop(log), metrics: sink, bus: bus, now: time.Now}
}

// Execute validates the job, then holds one tip for the whole plan. Nothing
// touches the pipette when validation fails.
func (e *Executor) Execute(ctx context.Context, job Job) (Result, error) {
	start := e.now()
	rate := job.FlowRate
	if rate == 0 {
		rate = e.cfg.FlowRate
	}
	if err := e.validate(job, rate); err != nil {
		return Result{}, fmt.Errorf("transfer %s: %w", job.Name, err)
	}
	if job.Plan.Empty() {
		e.log.Infof("transfer %s: no well needs %s, skipping", job.Name, job.Plan.Solution)
		return Result{Skipped: true}, nil
	}

	total := job.Plan.Total()
	e.publish(events.TransferEvent{RunID: job.RunID, Transfer: job.Name, Phase: events.PhaseStarted,
		Wells: job.Plan.Len(), Volume: total, Time: start})

	err := WithTip(ctx, job.Pipette, func(ctx context.Context) error {
		switch job.Strategy {
		case StrategyTransfer:
			return e.bulk(ctx, job)
		default:
			return e.manual(ctx, job, total, rate)
		}
	}, e.tipHook(job.Pipette.Name()))

	res := Result{Wells: job.Plan.Len(), Volume: total, Duration: e.now().Sub(start)}
	if err != nil {
		e.publish(events.TransferEvent{RunID: job.RunID, Transfer: job.Name, Phase: events.PhaseFailed, Err: err, Time: e.now()})
		return Result{Duration: res.Duration}, fmt.Errorf("transfer %s: %w", job.Name, err)
	}
	e.recordDispenses(job)
	e.publish(events.TransferEvent{RunID: job.RunID, Transfer: job.Name, Phase: events.PhaseCompleted,
		Wells: res.Wells, Volume: res.Volume, Time: e.now()})
	e.log.Infof("transfer %s: dispensed %.2f µL of %s into %d wells", job.Name, total, job.Plan.Solution, res.Wells)
	return res, nil
}

func (e *Executor) validate(job Job, rate float64) error {
	if job.Pipette == nil {
		return errors.New("no pipette")
	}
	if job.Destination == nil {
		return errors.New("no destination labware")
	}
	if rate <= 0 || math.IsNaN(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidFlowRate, rate)
	}
	if job.Pipette.HasTip() {
		return fmt.Errorf("%w: %s", ErrTipAlreadyAttached, job.Pipette.Name())
	}
	for _, entry := range job.Plan.Entries {
		if !job.Destination.Has(entry.Well) {
			return fmt.Errorf("%w: %s on %s", ErrUnknownWell, entry.Well, job.Destination)
		}
		if entry.Volume <= 0 || math.IsNaN(entry.Volume) || math.IsInf(entry.Volume, 0) {
			return fmt.Errorf("%w: %v in %s", ErrInvalidVolume, entry.Volume, entry.Well)
		}
		if entry.Volume < job.Pipette.MinVolume() {
			e.log.Warnf("transfer %s: %.2f µL into %s is below the %s minimum of %.2f µL",
				job.Name, entry.Volume, entry.Well, job.Pipette.Name(), job.Pipette.MinVolume())
		}
	}
	if job.Strategy == StrategyManual {
		if total := job.Plan.Total(); total > job.Pipette.MaxVolume() {
			return fmt.Errorf("%w: %.2f µL > %.2f µL (%s)", ErrExceedsCapacity, total, job.Pipette.MaxVolume(), job.Pipette.Name())
		}
	}
	return nil
}

func (e *Executor) manual(ctx context.Context, job Job, total, rate float64) error {
	p := job.Pipette
	if err := p.Aspirate(ctx, total, job.Source, rate); err != nil {
		return fmt.Errorf("aspirate %.2f µL from %s: %w", total, job.Source, err)
	}
	if !e.cfg.TouchTip.Disabled {
		if err := p.TouchTip(ctx, e.cfg.TouchTip.VOffset, e.cfg.TouchTip.Speed); err != nil {
			return fmt.Errorf("touch tip: %w", err)
		}
	}
	for _, entry := range job.Plan.Entries {
		loc, err := job.Destination.Location(entry.Well)
		if err != nil {
			return err
		}
		if err := p.Dispense(ctx, entry.Volume, loc, rate); err != nil {
			return fmt.Errorf("dispense %.2f µL into %s: %w", entry.Volume, loc, err)
		}
	}
	return nil
}

func (e *Executor) bulk(ctx context.Context, job Job) error {
	dests := make([]robot.Location, 0, job.Plan.Len())
	for _, w := range job.Plan.Wells() {
		loc, err := job.Destination.Location(w)
		if err != nil {
			return err
		}
		dests = append(dests, loc)
	}
	if err := job.Pipette.Transfer(ctx, job.Plan.Volumes(), job.Source, dests, robot.TipNever); err != nil {
		return fmt.Errorf("bulk transfer from %s: %w", job.Source, err)
	}
	return nil
}

func (e *Executor) tipHook(pipette string) TipHook {
	return func(action events.TipAction, err error) {
		now := e.now()
		e.publish(events.TipEvent{Pipette: pipette, Action: action, Err: err, Time: now})
		if rec, ok := e.metrics.(metrics.TipRecorder); ok {
			if merr := rec.RecordTip(metrics.TipEvent{Pipette: pipette, Action: string(action), Failed: err != nil, Time: now}); merr != nil {
				e.log.Warnf("record tip event: %v", merr)
			}
		}
		if err != nil {
			e.log.Errorf("%s %s failed: %v", pipette, action, err)
		}
	}
}

func (e *Executor) recordDispenses(job Job) {
	rec, ok := e.metrics.(metrics.DispenseRecorder)
	if !ok {
		return
	}
	now := e.now()
	recs := make([]metrics.DispenseRecord, len(job.Plan.Entries))
	for i, entry := range job.Plan.Entries {
		recs[i] = metrics.DispenseRecord{RunID: job.RunID, Transfer: job.Name, Solution: job.Plan.Solution,
			Well: entry.Well, Volume: entry.Volume, Time: now}
	}
	if err := rec.RecordDispenses(recs); err != nil {
		e.log.Warnf("record dispenses: %v", err)
	}
}

func (e *Executor) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
