package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncLockAcquisition("acquired")
	m.IncLockReleaseError()
	m.ObserveTransfer("applied", time.Millisecond)
	m.IncRateLimitDecision("trade", true)
	m.AddSweepRemovals("locks", 3)
	m.IncHTTPRequest("GET", "200")
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncLockAcquisition("busy")
	m.IncLockAcquisition("busy")
	m.IncRateLimitDecision("trade", false)
	m.AddSweepRemovals("locks", 4)
	m.AddSweepRemovals("locks", 0)

	if got := testutil.ToFloat64(m.LockAcquisitions.WithLabelValues("busy")); got != 2 {
		t.Fatalf("expected 2 busy acquisitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues("trade", "denied")); got != 1 {
		t.Fatalf("expected 1 denied decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.SweepRemovals.WithLabelValues("locks")); got != 4 {
		t.Fatalf("expected 4 removals, got %v", got)
	}
}
