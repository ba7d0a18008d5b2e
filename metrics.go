package bookfeed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instrumentation counters for one BookSet. A nil *Metrics
// is valid everywhere and records nothing, so instrumentation stays optional.
type Metrics struct {
	messages      *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	desyncs       *prometheus.CounterVec
	dropped       prometheus.Counter
	publishErrors prometheus.Counter
	books         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookfeed_messages_total",
			Help: "Messages dispatched by channel",
		}, []string{"channel"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookfeed_decode_errors_total",
			Help: "Frames dropped as malformed",
		}),
		desyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookfeed_desyncs_total",
			Help: "Book desync transitions by reason",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookfeed_dropped_messages_total",
			Help: "Data messages dropped for an untracked instrument",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookfeed_publish_errors_total",
			Help: "Update publishes that failed",
		}),
		books: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bookfeed_books_tracked",
			Help: "Number of tracked instruments",
		}),
	}

	toRegister := []prometheus.Collector{
		m.messages, m.decodeErrors, m.desyncs, m.dropped, m.publishErrors, m.books,
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	return m
}

func (m *Metrics) message(channel string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) desync(reason DesyncReason) {
	if m == nil {
		return
	}
	m.desyncs.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) droppedMessage() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) publishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

func (m *Metrics) setBooks(n int) {
	if m == nil {
		return
	}
	m.books.Set(float64(n))
}
