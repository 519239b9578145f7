package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSetupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strategy_setups_created_total",
		Help: "Total pending setups created",
	})

	metricPositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strategy_positions_opened_total",
		Help: "Total positions opened from confirmed setups",
	})

	metricTradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_trades_total",
		Help: "Total trades produced while managing positions, per exit reason",
	}, []string{"reason"})

	metricRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_rejections_total",
		Help: "Total gate rejections per gate name",
	}, []string{"gate"})
)
