package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobMetricsNilRegistererIsNoop(t *testing.T) {
	m := NewJobMetrics(nil)
	// must not panic
	m.ObserveDuration("sweep", time.Second)
	m.IncSuccess("sweep")
	m.IncFailure("sweep")
	m.IncReconciled("applied")
}

func TestJobMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	m.IncSuccess("reconcile_payments")
	m.IncSuccess("reconcile_payments")
	m.IncFailure("")
	m.IncReconciled("applied")

	if got := testutil.ToFloat64(m.success.WithLabelValues("reconcile_payments")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(m.failure.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("expected empty job label normalized, got %v", got)
	}
	if got := testutil.ToFloat64(m.swept.WithLabelValues("applied")); got != 1 {
		t.Fatalf("expected 1 reconciled, got %v", got)
	}
}

func TestWebhookMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)

	m.IncEvent("yookassa", "applied")
	m.IncEvent("yookassa", "duplicate")
	m.IncEvent("yookassa", "duplicate")

	if got := testutil.ToFloat64(m.events.WithLabelValues("yookassa", "duplicate")); got != 2 {
		t.Fatalf("expected 2 duplicates, got %v", got)
	}
}
