package collect

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of a collection run
type Metrics struct {
	ChunksReceived prometheus.Counter
	ChunksDropped  prometheus.Counter
	Samples        prometheus.Counter
	QueueDepth     prometheus.Gauge
	Trials         *prometheus.CounterVec // By label and short flag
	Phase          prometheus.Gauge       // Index of the active phase, -1 when idle
	Block          prometheus.Gauge
	StreamErrors   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bci",
			Name:      "chunks_received_total",
			Help:      "Chunks delivered by the board.",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bci",
			Name:      "chunks_dropped_total",
			Help:      "Chunks received outside recording phases.",
		}),
		Samples: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bci",
			Name:      "samples_received_total",
			Help:      "Samples per channel delivered by the board.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bci",
			Name:      "chunk_queue_depth",
			Help:      "Chunks waiting between the board and the accumulator.",
		}),
		Trials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bci",
			Name:      "trials_total",
			Help:      "Finalized trials.",
		}, []string{"label", "short"}),
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bci",
			Name:      "phase_index",
			Help:      "Index of the active phase in the script.",
		}),
		Block: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bci",
			Name:      "block_index",
			Help:      "Zero-based index of the current block.",
		}),
		StreamErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bci",
			Name:      "stream_errors_total",
			Help:      "Acquisition failures which terminated a run.",
		}),
	}
}

func (m *Metrics) trial(label int, short bool) {
	if m == nil {
		return
	}
	m.Trials.WithLabelValues(strconv.Itoa(label), strconv.FormatBool(short)).Inc()
}

func (m *Metrics) chunk(samples int, recorded bool, depth int) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.Samples.Add(float64(samples))
	m.QueueDepth.Set(float64(depth))
	if !recorded {
		m.ChunksDropped.Inc()
	}
}

func (m *Metrics) phase(index, block int) {
	if m == nil {
		return
	}
	m.Phase.Set(float64(index))
	m.Block.Set(float64(block))
}

func (m *Metrics) streamError() {
	if m == nil {
		return
	}
	m.StreamErrors.Inc()
}
