package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFire("medication")
	m.ObserveFire("medication")
	m.ObserveFire("appointment")
	m.ObserveDelivery("remote_speech", "error")
	m.ObserveDelivery("tone", "ok")
	m.ObserveSnooze()
	m.ObservePersistenceFailure()

	if got := testutil.ToFloat64(m.firedTotal.WithLabelValues("medication")); got != 2 {
		t.Errorf("Expected 2 medication fires, got %v", got)
	}
	if got := testutil.ToFloat64(m.firedTotal.WithLabelValues("appointment")); got != 1 {
		t.Errorf("Expected 1 appointment fire, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveryTotal.WithLabelValues("tone", "ok")); got != 1 {
		t.Errorf("Expected 1 tone delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.snoozeTotal); got != 1 {
		t.Errorf("Expected 1 snooze, got %v", got)
	}
	if got := testutil.ToFloat64(m.persistenceErrors); got != 1 {
		t.Errorf("Expected 1 persistence failure, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.ObserveFire("medication")
	m.ObserveDelivery("tone", "ok")
	m.ObserveSnooze()
	m.ObservePersistenceFailure()
}
