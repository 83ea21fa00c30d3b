package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRuleOutcome("fired")
		m.IncDelivery("email", true)
		m.IncQueueDropped()
		m.SetQueueDepth(3)
		m.ObserveDispatch(time.Millisecond)
		m.IncRuleStoreError()
		m.IncEventRecorded("critical")
	})
}

func TestCountersAreRecorded(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRuleOutcome("fired")
	m.IncRuleOutcome("fired")
	m.IncDelivery("sms", false)
	m.IncQueueDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleOutcomes.WithLabelValues("fired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("sms", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("sms", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDropped))
}

func TestSeparateRegistriesDoNotConflict(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
