package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/model"
)

func captureServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, strings.TrimSpace(string(b)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

func TestInfluxSink_RecordTransfer(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	res := coremetrics.TransferResult{
		RunID: "r1", Transfer: "buffer", Solution: "W", Strategy: "manual",
		Wells: 2, TotalVolume: 8, Duration: 1500 * time.Millisecond, Success: true, Time: now,
	}
	if err := sink.RecordTransfer(res); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("transfer_result").
		AddTag("run_id", "r1").
		AddTag("transfer", "buffer").
		AddTag("solution", "W").
		AddTag("strategy", "manual").
		AddTag("success", "true").
		AddField("wells", 2).
		AddField("total_volume_ul", 8.0).
		AddField("missing", 0).
		AddField("duration_ms", 1500.0).
		SetTime(now)
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if got := bodies(); len(got) != 1 || got[0] != exp {
		t.Errorf("unexpected body: %#v", got)
	}
}

func TestInfluxSink_RecordDispenses(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	now := time.Now()
	recs := []coremetrics.DispenseRecord{
		{RunID: "r1", Transfer: "buffer", Solution: "W", Well: "A1", Volume: 5, Time: now},
		{RunID: "r1", Transfer: "buffer", Solution: "W", Well: "B2", Volume: 3, Time: now},
	}
	if err := sink.RecordDispenses(recs); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := bodies()
	if len(got) != 1 {
		t.Fatalf("expected one batched write, got %d", len(got))
	}
	lines := strings.Split(got[0], "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "well=A1") || !strings.Contains(lines[1], "volume_ul=3") {
		t.Errorf("unexpected lines: %#v", lines)
	}
	if err := sink.RecordDispenses(nil); err != nil {
		t.Fatalf("empty record: %v", err)
	}
	if len(bodies()) != 1 {
		t.Errorf("empty batch should not write")
	}
}

func TestInfluxSink_RecordTipAndDiagnostics(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
	defer sink.Close()
	if err := sink.RecordTip(coremetrics.TipEvent{Pipette: "p20", Action: "drop", Failed: true, Time: time.Now()}); err != nil {
		t.Fatalf("tip: %v", err)
	}
	diags := []model.Diagnostic{{Solution: "D1", Column: "Plate col 2", Row: 0, RowLabel: "r1", Well: "A2"}}
	if err := sink.RecordDiagnostics("drug", diags); err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	got := bodies()
	if len(got) != 2 {
		t.Fatalf("expected two writes, got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "tip_event,") || !strings.Contains(got[0], "pipette=p20") || !strings.Contains(got[0], "failed=true") {
		t.Errorf("tip line: %s", got[0])
	}
	if !strings.HasPrefix(got[1], "missing_solution,") || !strings.Contains(got[1], `well="A2"`) {
		t.Errorf("diagnostic line: %s", got[1])
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
