package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - счётчики Prometheus для операций контроллера. nil *Metrics
// допустим и ничего не пишет.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	attempts   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// MustNewMetrics регистрирует счётчики в reg, при конфликте паникует.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amazon_lists",
			Subsystem: "controller",
			Name:      "operations_total",
			Help:      "Controller operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amazon_lists",
			Subsystem: "controller",
			Name:      "operation_duration_seconds",
			Help:      "Wall time of controller operations.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"operation"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amazon_lists",
			Subsystem: "controller",
			Name:      "operation_attempts",
			Help:      "Attempts used per operation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amazon_lists",
			Subsystem: "controller",
			Name:      "retries_total",
			Help:      "Retries by the reason of the failed attempt.",
		}, []string{"operation", "reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amazon_lists",
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Events emitted to the UI side.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.operations, m.duration, m.attempts, m.retries, m.events)
	return m
}

func (m *Metrics) observe(op string, res Result, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = res.Error
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
	if res.Attempts > 0 {
		m.attempts.WithLabelValues(op).Observe(float64(res.Attempts))
	}
}

func (m *Metrics) retry(op, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) event(typ string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ).Inc()
}
