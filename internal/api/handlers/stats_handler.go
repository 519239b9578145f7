package handlers

import (
	"net/http"
	"time"
)

// ClientCounter - количество подключенных WebSocket клиентов
type ClientCounter interface {
	ClientCount() int
}

// StatsHandler отдает сводное состояние всех подсистем одним запросом.
//
// Endpoints:
// - GET /api/v1/stats
//
// Сводка включает:
// - состояние подключений фида по источникам
// - счет и статистику бумажного брокера
// - режим стратегии и счетчики отклонений
// - время последнего lead-lag пересчета
// - количество WebSocket клиентов
type StatsHandler struct {
	feed     FeedService
	broker   BrokerService
	strategy StrategyService
	analyzer AnalysisService
	clients  ClientCounter

	startedAt time.Time
}

// NewStatsHandler создает новый StatsHandler. clients может быть nil.
func NewStatsHandler(feed FeedService, broker BrokerService, strategy StrategyService, analyzer AnalysisService, clients ClientCounter) *StatsHandler {
	return &StatsHandler{
		feed:      feed,
		broker:    broker,
		strategy:  strategy,
		analyzer:  analyzer,
		clients:   clients,
		startedAt: time.Now(),
	}
}

// GetStats возвращает сводное состояние сервера
//
// GET /api/v1/stats
//
// Response 200 OK:
//
//	{
//	  "uptime_seconds": 3600,
//	  "feed": {...},
//	  "broker": {...},
//	  "broker_stats": {...},
//	  "strategy": {...},
//	  "analysis_updated_at": "2026-01-15T12:00:00Z",
//	  "ws_clients": 2
//	}
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	_, updatedAt := h.analyzer.Latest()

	wsClients := 0
	if h.clients != nil {
		wsClients = h.clients.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":      int64(time.Since(h.startedAt).Seconds()),
		"feed":                h.feed.Stats(),
		"broker":              h.broker.State(),
		"broker_stats":        h.broker.Stats(),
		"strategy":            h.strategy.Status(),
		"analysis_updated_at": updatedAt,
		"ws_clients":          wsClients,
	})
}
