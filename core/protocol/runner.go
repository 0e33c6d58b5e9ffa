package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dispense/core/dispense"
	"github.com/kilianp07/dispense/core/events"
	"github.com/kilianp07/dispense/core/logger"
	"github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/core/plan"
	"github.com/kilianp07/dispense/core/robot"
	"github.com/kilianp07/dispense/core/runlog"
	"github.com/kilianp07/dispense/internal/eventbus"
)

// ErrMissingSolution is returned by Prepare when cells lack the requested
// solution and the dispense config makes that fatal.
var ErrMissingSolution = errors.New("solution missing from table cells")

// TableLoader reads the volume table referenced by a transfer.
type TableLoader interface {
	Load(ctx context.Context, path string) (model.VolumeTable, error)
}

// Deps are the collaborators of a Runner. Robot and Tables are required.
type Deps struct {
	Robot   robot.Robot
	Tables  TableLoader
	Store   runlog.Store
	Metrics metrics.MetricsSink
	Bus     eventbus.EventBus[events.Event]
	Logger  logger.Logger
}

// Prepared is a transfer whose plan is ready to execute.
type Prepared struct {
	Spec     TransferSpec
	Strategy dispense.Strategy
	Plan     model.DispensePlan
}

// Outcome reports what one transfer did.
type Outcome struct {
	Transfer string
	Solution model.SolutionID
	Wells    int
	Volume   float64
	Missing  int
	Skipped  bool
	Duration time.Duration
	Err      error
}

// Summary is the result of a run.
type Summary struct {
	RunID    string
	DryRun   bool
	Outcomes []Outcome
}

// Runner prepares and executes a Protocol.
type Runner struct {
	proto Protocol
	cfg   dispense.Config
	deps  Deps
	exec  *dispense.Executor
	log   logger.Logger
	now   func() time.Time
}

// NewRunner validates p and builds a Runner around deps.
func NewRunner(p Protocol, cfg dispense.Config, deps Deps) (*Runner, error) {
	if deps.Robot == nil || deps.Tables == nil {
		return nil, errors.New("runner needs a robot and a table loader")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopSink{}
	}
	log := logger.OrNop(deps.Logger).With(map[string]any{"protocol": p.Metadata.Name})
	return &Runner{
		proto: p,
		cfg:   cfg,
		deps:  deps,
		exec:  dispense.NewExecutor(cfg, log, deps.Metrics, deps.Bus),
		log:   log,
		now:   time.Now,
	}, nil
}

// Prepare loads every table and builds every plan. It never calls the robot,
// so any error here leaves the deck untouched.
func (r *Runner) Prepare(ctx context.Context) ([]Prepared, error) {
	tables := make(map[string]model.VolumeTable)
	out := make([]Prepared, 0, len(r.proto.Transfers))
	for _, t := range r.proto.Transfers {
		strategy, err := dispense.ParseStrategy(t.Strategy)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.Name, err)
		}
		tbl, ok := tables[t.Table]
		if !ok {
			tbl, err = r.deps.Tables.Load(ctx, t.Table)
			if err != nil {
				return nil, fmt.Errorf("transfer %s: load table %s: %w", t.Name, t.Table, err)
			}
			tables[t.Table] = tbl
		}
		plateSpec, _ := r.proto.LabwareByID(t.Plate)
		plate, err := robot.NewLabware(plateSpec.LoadName, plateSpec.Slot)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.Name, err)
		}
		p, err := plan.BuildPlan(tbl, plate.Wells(), t.Solution)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", t.Name, err)
		}
		if err := r.checkCapacity(t, strategy, p); err != nil {
			return nil, err
		}
		r.reportDiagnostics(t.Name, p)
		if len(p.Diagnostics) > 0 && r.cfg.FailOnMissingSolution {
			return nil, fmt.Errorf("transfer %s: %w: %d cells lack %s", t.Name, ErrMissingSolution, len(p.Diagnostics), t.Solution)
		}
		r.publish(events.PlanEvent{Transfer: t.Name, Solution: t.Solution, Wells: p.Len(), Total: p.Total(),
			Missing: len(p.Diagnostics), Time: r.now()})
		out = append(out, Prepared{Spec: t, Strategy: strategy, Plan: p})
	}
	return out, nil
}

func (r *Runner) checkCapacity(t TransferSpec, strategy dispense.Strategy, p model.DispensePlan) error {
	if strategy != dispense.StrategyManual {
		return nil
	}
	in, _ := r.proto.InstrumentByID(t.Pipette)
	def, err := robot.LookupPipette(in.Name)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", t.Name, err)
	}
	if total := p.Total(); total > def.MaxUL {
		return fmt.Errorf("transfer %s: %w: %.2f µL > %.2f µL (%s)", t.Name, dispense.ErrExceedsCapacity, total, def.MaxUL, def.Name)
	}
	return nil
}

func (r *Runner) reportDiagnostics(transfer string, p model.DispensePlan) {
	for _, d := range p.Diagnostics {
		r.log.Warnf("transfer %s: solution %s not found in column %q row %d (%s), well %s",
			transfer, d.Solution, d.Column, d.Row, d.RowLabel, d.Well)
	}
	if len(p.Diagnostics) == 0 {
		return
	}
	if rec, ok := r.deps.Metrics.(metrics.DiagnosticRecorder); ok {
		if err := rec.RecordDiagnostics(transfer, p.Diagnostics); err != nil {
			r.log.Warnf("record diagnostics: %v", err)
		}
	}
}

// Run prepares every plan, then loads the deck and executes the transfers in
// declaration order. It stops at the first failed transfer. In dry-run mode
// only Prepare runs.
func (r *Runner) Run(ctx context.Context, runID string, dryRun bool) (Summary, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	sum := Summary{RunID: runID, DryRun: dryRun}
	prepared, err := r.Prepare(ctx)
	if err != nil {
		return sum, err
	}
	if dryRun {
		for _, p := range prepared {
			sum.Outcomes = append(sum.Outcomes, Outcome{Transfer: p.Spec.Name, Solution: p.Plan.Solution,
				Wells: p.Plan.Len(), Volume: p.Plan.Total(), Missing: len(p.Plan.Diagnostics), Skipped: true})
		}
		r.log.Infof("dry run %s: %d transfers planned", runID, len(prepared))
		return sum, nil
	}

	deck, pipettes, err := r.loadDeck(ctx)
	if err != nil {
		return sum, err
	}
	for _, p := range prepared {
		out, err := r.execute(ctx, runID, p, deck, pipettes)
		sum.Outcomes = append(sum.Outcomes, out)
		if err != nil {
			return sum, err
		}
	}
	r.log.Infof("run %s completed: %d transfers", runID, len(prepared))
	return sum, nil
}

func (r *Runner) loadDeck(ctx context.Context) (map[string]*robot.Labware, map[string]robot.Pipette, error) {
	deck := make(map[string]*robot.Labware, len(r.proto.Labware))
	for _, l := range r.proto.Labware {
		lw, err := r.deps.Robot.LoadLabware(ctx, l.LoadName, l.Slot)
		if err != nil {
			return nil, nil, fmt.Errorf("load labware %s: %w", l.ID, err)
		}
		deck[l.ID] = lw
	}
	pipettes := make(map[string]robot.Pipette, len(r.proto.Instruments))
	for _, in := range r.proto.Instruments {
		racks := make([]*robot.Labware, len(in.TipRacks))
		for i, id := range in.TipRacks {
			racks[i] = deck[id]
		}
		p, err := r.deps.Robot.LoadInstrument(ctx, in.Name, in.Mount, racks)
		if err != nil {
			return nil, nil, fmt.Errorf("load instrument %s: %w", in.ID, err)
		}
		pipettes[in.ID] = p
	}
	return deck, pipettes, nil
}

func (r *Runner) execute(ctx context.Context, runID string, p Prepared, deck map[string]*robot.Labware, pipettes map[string]robot.Pipette) (Outcome, error) {
	t := p.Spec
	out := Outcome{Transfer: t.Name, Solution: t.Solution, Missing: len(p.Plan.Diagnostics)}
	source, err := deck[t.Source.Labware].Location(t.Source.Well)
	if err != nil {
		out.Err = err
		return out, fmt.Errorf("transfer %s: %w", t.Name, err)
	}
	pip := pipettes[t.Pipette]
	res, execErr := r.exec.Execute(ctx, dispense.Job{
		RunID:       runID,
		Name:        t.Name,
		Pipette:     pip,
		Plan:        p.Plan,
		Destination: deck[t.Plate],
		Source:      source,
		Strategy:    p.Strategy,
		FlowRate:    t.FlowRate,
	})
	out.Wells, out.Volume, out.Skipped, out.Duration, out.Err = res.Wells, res.Volume, res.Skipped, res.Duration, execErr

	rec := runlog.Record{
		RunID:       runID,
		Timestamp:   r.now(),
		Protocol:    r.proto.Metadata.Name,
		Transfer:    t.Name,
		Solution:    t.Solution,
		Pipette:     pip.Name(),
		Plate:       t.Plate,
		Strategy:    p.Strategy.String(),
		TotalVolume: res.Volume,
		Entries:     p.Plan.Entries,
		Missing:     len(p.Plan.Diagnostics),
	}
	result := metrics.TransferResult{
		RunID:       runID,
		Transfer:    t.Name,
		Solution:    t.Solution,
		Pipette:     pip.Name(),
		Plate:       t.Plate,
		Strategy:    p.Strategy.String(),
		Wells:       res.Wells,
		TotalVolume: res.Volume,
		Missing:     len(p.Plan.Diagnostics),
		Duration:    res.Duration,
		Success:     execErr == nil,
		Time:        rec.Timestamp,
	}
	if execErr != nil {
		rec.Error = execErr.Error()
		result.Error = execErr.Error()
	}
	if r.deps.Store != nil {
		// The record must survive a cancelled run.
		if err := r.deps.Store.Append(context.WithoutCancel(ctx), rec); err != nil {
			r.log.Errorf("append run log: %v", err)
		}
	}
	if err := r.deps.Metrics.RecordTransfer(result); err != nil {
		r.log.Warnf("record transfer metrics: %v", err)
	}
	return out, execErr
}

func (r *Runner) publish(ev events.Event) {
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(ev)
	}
}
