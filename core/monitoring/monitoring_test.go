package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordMonitor struct {
	errs    []error
	panics  []any
	flushed bool
}

func (r *recordMonitor) CaptureException(err error, _ map[string]string) { r.errs = append(r.errs, err) }
func (r *recordMonitor) CapturePanic(v any)                              { r.panics = append(r.panics, v) }
func (r *recordMonitor) Flush(time.Duration)                             { r.flushed = true }

func TestCaptureExceptionSkipsNil(t *testing.T) {
	mon := &recordMonitor{}
	Init(mon)
	defer Init(nil)
	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"run_id": "r1"})
	if len(mon.errs) != 1 {
		t.Fatalf("expected one captured error, got %d", len(mon.errs))
	}
}

func TestRecoverReportsAndRepanics(t *testing.T) {
	mon := &recordMonitor{}
	Init(mon)
	defer Init(nil)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("panic was swallowed")
		}
		if len(mon.panics) != 1 || !mon.flushed {
			t.Fatalf("panic not reported: %+v", mon)
		}
	}()
	func() {
		defer Recover()
		panic("tip crash")
	}()
}
