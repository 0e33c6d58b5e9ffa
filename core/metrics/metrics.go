package metrics

import (
	"time"

	"github.com/kilianp07/dispense/core/model"
)

// TransferResult summarizes one executed transfer.
type TransferResult struct {
	RunID       string
	Transfer    string
	Solution    model.SolutionID
	Pipette     string
	Plate       string
	Strategy    string
	Wells       int
	TotalVolume float64
	Missing     int
	Duration    time.Duration
	Success     bool
	Error       string
	Time        time.Time
}

// MetricsSink records transfer results for observability purposes.
type MetricsSink interface {
	RecordTransfer(res TransferResult) error
}

// DispenseRecord is one volume delivered into one well.
type DispenseRecord struct {
	RunID    string
	Transfer string
	Solution model.SolutionID
	Well     model.WellID
	Volume   float64
	Time     time.Time
}

// DispenseRecorder records per-well dispenses.
type DispenseRecorder interface {
	RecordDispenses(recs []DispenseRecord) error
}

// TipEvent is a pick-up or drop of a tip.
type TipEvent struct {
	Pipette string
	Action  string
	Failed  bool
	Time    time.Time
}

// TipRecorder records tip usage.
type TipRecorder interface {
	RecordTip(ev TipEvent) error
}

// DiagnosticRecorder records cells that lacked the requested solution.
type DiagnosticRecorder interface {
	RecordDiagnostics(transfer string, diags []model.Diagnostic) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordTransfer(TransferResult) error                { return nil }
func (NopSink) RecordDispenses([]DispenseRecord) error             { return nil }
func (NopSink) RecordTip(TipEvent) error                           { return nil }
func (NopSink) RecordDiagnostics(string, []model.Diagnostic) error { return nil }
