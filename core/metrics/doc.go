// Package metrics defines the sinks that observe protocol execution. A
// MetricsSink records one TransferResult per executed transfer; sinks may
// also implement DispenseRecorder, TipRecorder or DiagnosticRecorder for finer
// grained data. Sinks are created from configuration with NewMetricsSink and
// combined with MultiSink when several are configured.
package metrics
