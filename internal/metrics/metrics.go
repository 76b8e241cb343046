package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the reminder engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	fired            *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	storeErrors      *prometheus.CounterVec
	armed            prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg and panics on duplicate
// registration. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "remindbot",
				Name:      "reminders_fired_total",
				Help:      "Reminders delivered by the scheduler, by kind.",
			},
			[]string{"kind"},
		),
		deliveryFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "remindbot",
				Name:      "delivery_failures_total",
				Help:      "Reminder messages the transport failed to send.",
			},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "remindbot",
				Name:      "store_errors_total",
				Help:      "Failed reminder store operations, by operation.",
			},
			[]string{"op"},
		),
		armed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "remindbot",
				Name:      "wakes_armed",
				Help:      "Reminder wakes currently pending.",
			},
		),
	}
	reg.MustRegister(m.fired, m.deliveryFailures, m.storeErrors, m.armed)
	return m
}

func (m *Metrics) Fired(kind string) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(kind).Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

// MustRegisterStored exposes the number of persisted reminders, read from
// count on every scrape.
func MustRegisterStored(reg prometheus.Registerer, count func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "remindbot",
			Name:      "reminders_stored",
			Help:      "Reminders currently persisted.",
		},
		func() float64 { return float64(count()) },
	))
}
