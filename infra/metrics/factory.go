package metrics

import (
	"github.com/kilianp07/dispense/core/factory"
	coremetrics "github.com/kilianp07/dispense/core/metrics"
)

// init registers the built-in metrics sinks next to core's "nop".
func init() {
	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		// The listen address belongs to the HTTP server, not to the sink.
		return NewPromSink()
	})

	_ = coremetrics.RegisterMetricsSink("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c), nil
	})
}
