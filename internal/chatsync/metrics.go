package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "casechat"

// Metrics instruments the sync engine. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Ticks         *prometheus.CounterVec
	TicksSkipped  prometheus.Counter
	TickDuration  prometheus.Histogram
	Reconciled    *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	MarkRead      *prometheus.CounterVec
	HistoryPages  prometheus.Counter
	CachedMessage prometheus.Gauge
	Unread        prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "poll_ticks_total",
			Help: "Poll ticks by outcome.",
		}, []string{"result"}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "poll_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still in flight.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "poll_tick_seconds",
			Help:    "Duration of poll ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "reconciled_messages_total",
			Help: "Messages handled by reconciliation, by disposition.",
		}, []string{"disposition"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "sends_total",
			Help: "Optimistic sends by outcome.",
		}, []string{"result"}),
		MarkRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "mark_read_total",
			Help: "Mark-as-read calls by outcome.",
		}, []string{"result"}),
		HistoryPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "sync", Name: "history_pages_total",
			Help: "Older history pages fetched.",
		}),
		CachedMessage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "messages",
			Help: "Messages held in the cache.",
		}),
		Unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: "cache", Name: "unread_messages",
			Help: "Sum of unread counters.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ticks, m.TicksSkipped, m.TickDuration, m.Reconciled,
			m.Sends, m.MarkRead, m.HistoryPages, m.CachedMessage, m.Unread)
	}
	return m
}

func (m *Metrics) tick(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(result).Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) skipped() {
	if m != nil {
		m.TicksSkipped.Inc()
	}
}

func (m *Metrics) reconciled(disposition string, n int) {
	if m != nil && n > 0 {
		m.Reconciled.WithLabelValues(disposition).Add(float64(n))
	}
}

func (m *Metrics) send(result string) {
	if m != nil {
		m.Sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) markRead(result string) {
	if m != nil {
		m.MarkRead.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) page() {
	if m != nil {
		m.HistoryPages.Inc()
	}
}

func (m *Metrics) cache(messages, unread int) {
	if m == nil {
		return
	}
	m.CachedMessage.Set(float64(messages))
	m.Unread.Set(float64(unread))
}
