package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/model"
	"github.com/kilianp07/dispense/infra/logger"
)

// InfluxConfig locates the InfluxDB bucket receiving transfer points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes transfer activity to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordTransfer writes one transfer_result point.
func (s *InfluxSink) RecordTransfer(r coremetrics.TransferResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("transfer_result").
		AddTag("run_id", r.RunID).
		AddTag("transfer", r.Transfer).
		AddTag("solution", string(r.Solution)).
		AddTag("strategy", r.Strategy).
		AddTag("success", strconv.FormatBool(r.Success)).
		AddField("wells", r.Wells).
		AddField("total_volume_ul", round3(r.TotalVolume)).
		AddField("missing", r.Missing).
		AddField("duration_ms", round3(r.Duration.Seconds()*1000))
	if r.Error != "" {
		p = p.AddField("error", r.Error)
	}
	p = p.SetTime(r.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispenses writes one dispense point per well.
func (s *InfluxSink) RecordDispenses(recs []coremetrics.DispenseRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, len(recs))
	for i, r := range recs {
		points[i] = write.NewPointWithMeasurement("dispense").
			AddTag("run_id", r.RunID).
			AddTag("transfer", r.Transfer).
			AddTag("solution", string(r.Solution)).
			AddTag("well", string(r.Well)).
			AddField("volume_ul", round3(r.Volume)).
			SetTime(r.Time)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordTip writes a tip_event point.
func (s *InfluxSink) RecordTip(ev coremetrics.TipEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("tip_event").
		AddTag("pipette", ev.Pipette).
		AddTag("action", ev.Action).
		AddField("failed", ev.Failed).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDiagnostics writes one missing_solution point per reported cell.
func (s *InfluxSink) RecordDiagnostics(transfer string, diags []model.Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	points := make([]*write.Point, len(diags))
	for i, d := range diags {
		points[i] = write.NewPointWithMeasurement("missing_solution").
			AddTag("transfer", transfer).
			AddTag("solution", string(d.Solution)).
			AddTag("column", d.Column).
			AddField("row", d.Row).
			AddField("row_label", d.RowLabel).
			AddField("well", string(d.Well)).
			SetTime(now)
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
