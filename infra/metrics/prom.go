package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/model"
)

// PromSink records transfer activity in Prometheus metrics.
type PromSink struct {
	transfers *prometheus.CounterVec
	volume    *prometheus.CounterVec
	wells     *prometheus.CounterVec
	missing   *prometheus.CounterVec
	tips      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewPromSink registers transfer metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_transfers_total",
			Help: "Total number of executed transfers",
		}, []string{"solution", "strategy", "success"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_volume_ul_total",
			Help: "Volume dispensed in microliters",
		}, []string{"solution"}),
		wells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_wells_total",
			Help: "Number of wells that received liquid",
		}, []string{"solution"}),
		missing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_missing_solution_cells_total",
			Help: "Table cells that did not mention the requested solution",
		}, []string{"transfer"}),
		tips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispense_tip_events_total",
			Help: "Tip pick-ups and drops",
		}, []string{"pipette", "action", "failed"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispense_transfer_duration_seconds",
			Help:    "Wall time of a transfer from pick-up to drop",
			Buckets: prometheus.DefBuckets,
		}, []string{"solution", "strategy"}),
	}

	var err error
	if s.transfers, err = register(reg, s.transfers); err != nil {
		return nil, err
	}
	if s.volume, err = register(reg, s.volume); err != nil {
		return nil, err
	}
	if s.wells, err = register(reg, s.wells); err != nil {
		return nil, err
	}
	if s.missing, err = register(reg, s.missing); err != nil {
		return nil, err
	}
	if s.tips, err = register(reg, s.tips); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when c was registered
// before, so several sinks can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordTransfer updates the transfer counters and the duration histogram.
func (s *PromSink) RecordTransfer(r coremetrics.TransferResult) error {
	sol := string(r.Solution)
	s.transfers.WithLabelValues(sol, r.Strategy, strconv.FormatBool(r.Success)).Inc()
	if r.Missing > 0 {
		s.missing.WithLabelValues(r.Transfer).Add(float64(r.Missing))
	}
	if r.Success {
		s.duration.WithLabelValues(sol, r.Strategy).Observe(r.Duration.Seconds())
	}
	return nil
}

// RecordDispenses adds every delivered volume to the per-solution totals.
func (s *PromSink) RecordDispenses(recs []coremetrics.DispenseRecord) error {
	for _, r := range recs {
		sol := string(r.Solution)
		s.volume.WithLabelValues(sol).Add(r.Volume)
		s.wells.WithLabelValues(sol).Inc()
	}
	return nil
}

// RecordTip counts a tip pick-up or drop.
func (s *PromSink) RecordTip(ev coremetrics.TipEvent) error {
	s.tips.WithLabelValues(ev.Pipette, ev.Action, strconv.FormatBool(ev.Failed)).Inc()
	return nil
}

// RecordDiagnostics is a no-op: missing cells are already counted from the
// transfer result.
func (s *PromSink) RecordDiagnostics(string, []model.Diagnostic) error { return nil }
