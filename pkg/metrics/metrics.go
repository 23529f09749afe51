// Package metrics exposes counters for reminder scheduling and alarm
// delivery. All methods are nil-safe so instrumentation can be omitted
// in tests and dry runs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the reminder daemon's Prometheus collectors.
type Metrics struct {
	firedTotal        *prometheus.CounterVec
	deliveryTotal     *prometheus.CounterVec
	snoozeTotal       prometheus.Counter
	persistenceErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		firedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reminderd",
			Subsystem: "scheduler",
			Name:      "reminders_fired_total",
			Help:      "Total reminder fire events by source kind",
		}, []string{"kind"}),
		deliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reminderd",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery tier attempts by tier and outcome",
		}, []string{"tier", "status"}),
		snoozeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reminderd",
			Subsystem: "alarm",
			Name:      "snoozes_total",
			Help:      "Total alarm snoozes",
		}),
		persistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reminderd",
			Subsystem: "alarm",
			Name:      "persistence_failures_total",
			Help:      "Failed mark-taken/acknowledge mutations",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.firedTotal, m.deliveryTotal, m.snoozeTotal, m.persistenceErrors)
	return m
}

func (m *Metrics) ObserveFire(kind string) {
	if m == nil {
		return
	}
	m.firedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDelivery(tier, status string) {
	if m == nil {
		return
	}
	m.deliveryTotal.WithLabelValues(tier, status).Inc()
}

func (m *Metrics) ObserveSnooze() {
	if m == nil {
		return
	}
	m.snoozeTotal.Inc()
}

func (m *Metrics) ObservePersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceErrors.Inc()
}
