package indexsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds sync counters in a private registry so a one-shot CLI run
// can dump them to a node_exporter textfile.
type Metrics struct {
	registry *prometheus.Registry
	batches  *prometheus.CounterVec
	records  *prometheus.CounterVec
	residual prometheus.Gauge
	duration *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labrec_sync_batches_total",
				Help: "Sync batches attempted, by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "labrec_sync_records_total",
				Help: "Records upserted or deleted",
			},
			[]string{"operation"},
		),
		residual: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labrec_sync_residual_entries",
			Help: "Entries left in the index after the last delete run",
		}),
		duration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "labrec_sync_last_run_seconds",
				Help: "Duration of the last sync run",
			},
			[]string{"operation"},
		),
	}
	m.registry.MustRegister(m.batches, m.records, m.residual, m.duration)
	return m
}

// Observe folds a finished report into the counters. A nil receiver is a no-op.
func (m *Metrics) Observe(r *Report) {
	if m == nil || r == nil {
		return
	}
	op := string(r.Op)
	m.batches.WithLabelValues(op, "success").Add(float64(r.BatchesSucceeded))
	m.batches.WithLabelValues(op, "failure").Add(float64(r.BatchesFailed))
	m.records.WithLabelValues(op).Add(float64(r.RecordsProcessed))
	m.duration.WithLabelValues(op).Set(r.Duration.Seconds())
	if r.Op == OpDelete {
		m.residual.Set(float64(r.Residual))
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the registry in text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
