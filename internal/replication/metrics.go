package replication

import "github.com/prometheus/client_golang/prometheus"

// Push results.
const (
	resultSent    = "sent"
	resultFailed  = "failed"
	resultDropped = "dropped"
	resultSkipped = "skipped"
)

// Metrics are the pipeline's prometheus collectors.
type Metrics struct {
	pushes           *prometheus.CounterVec
	outboxDepth      prometheus.Gauge
	snapshotDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "till",
			Subsystem: "replication",
			Name:      "pushes_total",
			Help:      "Remote pushes by action and result.",
		}, []string{"action", "result"}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "till",
			Subsystem: "replication",
			Name:      "outbox_pending",
			Help:      "Outbox entries awaiting delivery.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "till",
			Subsystem: "replication",
			Name:      "snapshot_push_seconds",
			Help:      "Duration of open-ticket snapshot pushes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pushes, m.outboxDepth, m.snapshotDuration)
	}
	return m
}

func (m *Metrics) push(action, result string) {
	m.pushes.WithLabelValues(action, result).Inc()
}
