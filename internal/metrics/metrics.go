package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Rule outcomes per dispatch pass: fired, skipped, malformed, no_match
	RuleOutcomes *prometheus.CounterVec

	// Delivery attempts by channel (email, sms) and result (ok, error)
	Deliveries *prometheus.CounterVec

	// Jobs dropped because the delivery queue was full
	QueueDropped prometheus.Counter

	QueueDepth prometheus.Gauge

	DispatchLatency prometheus.Histogram

	RuleStoreErrors prometheus.Counter

	EventsRecorded *prometheus.CounterVec
}

// New registers the collectors with reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RuleOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditwatch_rule_outcomes_total",
			Help: "Notification rule outcomes per dispatch pass",
		}, []string{"outcome"}),

		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditwatch_deliveries_total",
			Help: "Notification delivery attempts by channel and result",
		}, []string{"channel", "result"}),

		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditwatch_delivery_queue_dropped_total",
			Help: "Delivery jobs dropped because the queue was full",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "auditwatch_delivery_queue_depth",
			Help: "Delivery jobs waiting in the queue",
		}),

		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditwatch_dispatch_duration_seconds",
			Help:    "Duration of a dispatch pass excluding asynchronous delivery",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		RuleStoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "auditwatch_rule_store_errors_total",
			Help: "Dispatch passes aborted because the rule store could not be read",
		}),

		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "auditwatch_events_recorded_total",
			Help: "Audit events recorded by severity",
		}, []string{"severity"}),
	}
}

func (m *Metrics) IncRuleOutcome(outcome string) {
	if m != nil {
		m.RuleOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncDelivery(channel string, ok bool) {
	if m != nil {
		result := "ok"
		if !ok {
			result = "error"
		}
		m.Deliveries.WithLabelValues(channel, result).Inc()
	}
}

func (m *Metrics) IncQueueDropped() {
	if m != nil {
		m.QueueDropped.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// ObserveDispatch records the duration of one dispatch pass.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m != nil {
		m.DispatchLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncRuleStoreError() {
	if m != nil {
		m.RuleStoreErrors.Inc()
	}
}

func (m *Metrics) IncEventRecorded(severity string) {
	if m != nil {
		m.EventsRecorded.WithLabelValues(severity).Inc()
	}
}
