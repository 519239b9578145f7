package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики feed-слоя. Лейбл source = идентификатор биржи (BT/BNB)
var (
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Total websocket messages received per source",
	}, []string{"source"})

	metricMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_malformed_total",
		Help: "Total malformed websocket payloads per source",
	}, []string{"source"})

	metricCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_scale_corrections_total",
		Help: "Total scale-glitch price corrections per source",
	}, []string{"source"})

	metricBars = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_bars_total",
		Help: "Total bars emitted across all series",
	})
)
