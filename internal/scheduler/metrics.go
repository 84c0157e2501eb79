package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the dispatch loop. A nil *Metrics records nothing.
type Metrics struct {
	ticks        prometheus.Counter
	skippedTicks prometheus.Counter
	sent         prometheus.Counter
	failures     prometheus.Counter
	cleaned      prometheus.Counter
	tickDuration prometheus.Histogram
}

// NewMetrics registers the dispatch metrics with reg. A nil registerer
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remindclaw",
			Subsystem: "dispatch",
			Name:      "ticks_total",
			Help:      "Number of dispatch ticks that ran.",
		}),
		skippedTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remindclaw",
			Subsystem: "dispatch",
			Name:      "skipped_ticks_total",
			Help:      "Number of ticks skipped because the previous tick was still running.",
		}),
		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remindclaw",
			Subsystem: "dispatch",
			Name:      "notifications_sent_total",
			Help:      "Number of reminder notifications delivered.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remindclaw",
			Subsystem: "dispatch",
			Name:      "delivery_failures_total",
			Help:      "Number of reminder notifications that could not be delivered.",
		}),
		cleaned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "remindclaw",
			Subsystem: "cleanup",
			Name:      "messages_removed_total",
			Help:      "Number of old bot messages removed from chats.",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remindclaw",
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one dispatch tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) recordTick(seconds float64) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(seconds)
}

func (m *Metrics) recordSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) recordSent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

func (m *Metrics) recordFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) recordCleaned(n int) {
	if m == nil {
		return
	}
	m.cleaned.Add(float64(n))
}
