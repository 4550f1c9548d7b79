package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueMetrics tracks traffic through the duplex user interface.
type QueueMetrics struct {
	messages      *prometheus.CounterVec
	deferred      *prometheus.CounterVec
	interruptions prometheus.Counter
	waiting       *prometheus.GaugeVec
}

var (
	defaultQueueMetrics     *QueueMetrics
	defaultQueueMetricsOnce sync.Once
)

// NewQueueMetrics builds a QueueMetrics recorder using the default registry.
func NewQueueMetrics() *QueueMetrics {
	defaultQueueMetricsOnce.Do(func() {
		defaultQueueMetrics = newQueueMetrics(prometheus.DefaultRegisterer)
	})
	return defaultQueueMetrics
}

// NewQueueMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewQueueMetricsWithRegisterer(reg prometheus.Registerer) *QueueMetrics {
	return newQueueMetrics(reg)
}

func newQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &QueueMetrics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concopilot",
			Subsystem: "duplex",
			Name:      "messages_total",
			Help:      "Messages enqueued per direction",
		}, []string{"direction"}),
		deferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concopilot",
			Subsystem: "duplex",
			Name:      "deferred_total",
			Help:      "Replies set aside while waiting for another thread id",
		}, []string{"direction"}),
		interruptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "concopilot",
			Subsystem: "duplex",
			Name:      "interrupt_total",
			Help:      "Number of duplex interfaces interrupted",
		}),
		waiting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "concopilot",
			Subsystem: "duplex",
			Name:      "waiters",
			Help:      "Goroutines currently blocked waiting for a message",
		}, []string{"direction"}),
	}
}

// RecordMessage counts one enqueued message.
func (m *QueueMetrics) RecordMessage(direction string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction).Inc()
}

// RecordDeferred counts replies parked in the local cache.
func (m *QueueMetrics) RecordDeferred(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deferred.WithLabelValues(direction).Add(float64(n))
}

// RecordInterrupt increments the interrupt counter.
func (m *QueueMetrics) RecordInterrupt() {
	if m == nil {
		return
	}
	m.interruptions.Inc()
}

// WaitStarted and WaitFinished bracket a blocking wait.
func (m *QueueMetrics) WaitStarted(direction string) {
	if m == nil {
		return
	}
	m.waiting.WithLabelValues(direction).Inc()
}

func (m *QueueMetrics) WaitFinished(direction string) {
	if m == nil {
		return
	}
	m.waiting.WithLabelValues(direction).Dec()
}

// Deferred exposes the deferred counter of one direction.
func (m *QueueMetrics) Deferred(direction string) prometheus.Counter {
	return m.deferred.WithLabelValues(direction)
}

// Interruptions exposes the interrupt counter.
func (m *QueueMetrics) Interruptions() prometheus.Counter { return m.interruptions }
