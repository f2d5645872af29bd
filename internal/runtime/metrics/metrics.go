// Package metrics holds the Prometheus collectors of the prediction worker.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeAcked  = "acked"
	OutcomeNacked = "nacked"
)

// KindNone is the kind label of acknowledged deliveries.
const KindNone = "none"

// WorkerMetrics tracks per-delivery statistics of the consumer loop.
type WorkerMetrics struct {
	mu sync.RWMutex

	totals WorkerTotals

	// Prometheus collectors
	messagesTotal     *prometheus.CounterVec
	processingSeconds *prometheus.HistogramVec
	batchSize         prometheus.Histogram
	predictionsTotal  prometheus.Counter
	inFlight          prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// WorkerTotals is a point-in-time view of the counters, for logs and tests.
type WorkerTotals struct {
	Acked        uint64            `json:"acked"`
	Nacked       uint64            `json:"nacked"`
	Predictions  uint64            `json:"predictions"`
	FailedByKind map[string]uint64 `json:"failed_by_kind"`
	LastMessage  time.Time         `json:"last_message,omitempty"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predictflow",
			Subsystem: "worker",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predictflow",
			Subsystem: "worker",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewWorkerMetrics creates the collectors. A nil registerer means the
// Prometheus default registerer.
func NewWorkerMetrics(registerer prometheus.Registerer) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkerMetrics{
		totals:            WorkerTotals{FailedByKind: make(map[string]uint64)},
		registerer:        registerer,
		messagesTotal:     newCounterVec("messages_total", "Deliveries processed, by final disposition and failure kind", []string{"outcome", "kind"}),
		processingSeconds: newHistogramVec("processing_seconds", "Time from delivery to ack or nack", prometheus.DefBuckets, []string{"outcome"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "predictflow",
			Subsystem: "worker",
			Name:      "batch_size",
			Help:      "Number of tickets per decoded request",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		predictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "predictflow",
			Subsystem: "worker",
			Name:      "predictions_total",
			Help:      "Predictions delivered in acknowledged replies",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictflow",
			Subsystem: "worker",
			Name:      "in_flight",
			Help:      "Deliveries currently being processed",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *WorkerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.processingSeconds,
		m.batchSize,
		m.predictionsTotal,
		m.inFlight,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Started marks one delivery as in flight.
func (m *WorkerMetrics) Started() {
	m.inFlight.Inc()
}

// Decoded records the size of a decoded batch.
func (m *WorkerMetrics) Decoded(items int) {
	m.batchSize.Observe(float64(items))
}

// Acked records a delivery whose reply was published and acknowledged.
func (m *WorkerMetrics) Acked(predictions int, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals.Acked++
	m.totals.Predictions += uint64(predictions)
	m.totals.LastMessage = time.Now()

	m.inFlight.Dec()
	m.messagesTotal.WithLabelValues(OutcomeAcked, KindNone).Inc()
	m.processingSeconds.WithLabelValues(OutcomeAcked).Observe(took.Seconds())
	m.predictionsTotal.Add(float64(predictions))
}

// Nacked records a delivery rejected because of a failure of the given kind.
func (m *WorkerMetrics) Nacked(kind string, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals.Nacked++
	m.totals.FailedByKind[kind]++
	m.totals.LastMessage = time.Now()

	m.inFlight.Dec()
	m.messagesTotal.WithLabelValues(OutcomeNacked, kind).Inc()
	m.processingSeconds.WithLabelValues(OutcomeNacked).Observe(took.Seconds())
}

// Totals returns a copy of the running totals.
func (m *WorkerMetrics) Totals() WorkerTotals {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.totals
	out.FailedByKind = make(map[string]uint64, len(m.totals.FailedByKind))
	for k, v := range m.totals.FailedByKind {
		out.FailedByKind[k] = v
	}
	return out
}

// Reset clears the running totals, the labelled message and latency vectors
// and the in-flight gauge. The predictions counter and the batch size
// histogram are cumulative and keep their values.
func (m *WorkerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals = WorkerTotals{FailedByKind: make(map[string]uint64)}
	m.messagesTotal.Reset()
	m.processingSeconds.Reset()
	m.inFlight.Set(0)
}

// Handler serves the metrics of gatherer in the Prometheus exposition format.
// A nil gatherer means the Prometheus default gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
