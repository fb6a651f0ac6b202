package metrics

import (
	"gcconfirm/confirm"

	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for metrics.
const (
	LabelOutcome = "outcome"
)

// Metrics provides Prometheus metrics for collection confirmations.
// It implements confirm.Recorder.
type Metrics struct {
	confirmTotal     *prometheus.CounterVec
	confirmDuration  *prometheus.HistogramVec
	cyclesObserved   prometheus.Histogram
	interruptedTotal prometheus.Counter
	rssReclaimed     prometheus.Gauge
}

var _ confirm.Recorder = (*Metrics)(nil)

// NewMetrics creates confirmation metrics and registers them with registry.
// If registry is nil, metrics are created but not registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		confirmTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcconfirm",
				Name:      "confirm_total",
				Help:      "Total number of collection confirmations by outcome",
			},
			[]string{LabelOutcome},
		),
		confirmDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gcconfirm",
				Name:      "confirm_duration_seconds",
				Help:      "Time spent confirming a collection",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{LabelOutcome},
		),
		cyclesObserved: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gcconfirm",
				Name:      "cycles_observed",
				Help:      "Collection cycles observed during one confirmation",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50},
			},
		),
		interruptedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gcconfirm",
				Name:      "interrupted_total",
				Help:      "Confirmations whose wait was interrupted by cancellation",
			},
		),
		rssReclaimed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gcconfirm",
				Name:      "rss_reclaimed_bytes",
				Help:      "Resident set size released by the last confirmation, negative when it grew",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.confirmTotal,
			m.confirmDuration,
			m.cyclesObserved,
			m.interruptedTotal,
			m.rssReclaimed,
		)
	}
	return m
}

// Observe implements confirm.Recorder.
func (m *Metrics) Observe(res confirm.Result) {
	if m == nil {
		return
	}
	outcome := string(res.Outcome)
	m.confirmTotal.WithLabelValues(outcome).Inc()
	m.confirmDuration.WithLabelValues(outcome).Observe(res.Elapsed.Seconds())
	if res.Outcome != confirm.OutcomeBlind {
		m.cyclesObserved.Observe(float64(res.Cycles))
	}
	if res.Interrupted {
		m.interruptedTotal.Inc()
	}
	if res.RSSBefore > 0 && res.RSSAfter > 0 {
		m.rssReclaimed.Set(float64(res.RSSBefore) - float64(res.RSSAfter))
	}
}
