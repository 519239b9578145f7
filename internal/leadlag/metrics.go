package leadlag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadlag_compute_duration_seconds",
		Help:    "Duration of a full lead-lag computation pass",
		Buckets: prometheus.DefBuckets,
	})

	metricPairsAnalyzed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadlag_pairs_analyzed",
		Help: "Number of pair results produced by the last computation",
	})
)
