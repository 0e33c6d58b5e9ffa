package metrics

import (
	"errors"

	"github.com/kilianp07/dispense/core/model"
)

// MultiSink fans records out to multiple sinks. Every sink is called even if
// an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordTransfer(res TransferResult) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordTransfer(res))
	}
	return errors.Join(errs...)
}

// RecordDispenses forwards to the sinks implementing DispenseRecorder.
func (m *MultiSink) RecordDispenses(recs []DispenseRecord) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DispenseRecorder); ok {
			errs = append(errs, r.RecordDispenses(recs))
		}
	}
	return errors.Join(errs...)
}

// RecordTip forwards to the sinks implementing TipRecorder.
func (m *MultiSink) RecordTip(ev TipEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(TipRecorder); ok {
			errs = append(errs, r.RecordTip(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordDiagnostics forwards to the sinks implementing DiagnosticRecorder.
func (m *MultiSink) RecordDiagnostics(transfer string, diags []model.Diagnostic) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(DiagnosticRecorder); ok {
			errs = append(errs, r.RecordDiagnostics(transfer, diags))
		}
	}
	return errors.Join(errs...)
}
