package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPositionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_positions_opened_total",
		Help: "Total paper positions opened",
	})

	metricTradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_trades_closed_total",
		Help: "Total paper trades closed per exit reason",
	}, []string{"reason"})

	metricNetPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_net_pnl_total",
		Help: "Cumulative realized net PnL across all trades",
	})
)
