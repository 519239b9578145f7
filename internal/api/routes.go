package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leadlag/internal/api/handlers"
	"leadlag/internal/api/middleware"
	"leadlag/internal/websocket"
	"leadlag/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers.
// TradeStore может быть nil, если сервер запущен без Postgres.
type Dependencies struct {
	Feed       handlers.FeedService
	Analyzer   handlers.AnalysisService
	Broker     handlers.BrokerService
	Strategy   handlers.StrategyService
	TradeStore handlers.TradeStore
	Hub        *websocket.Hub
	Log        *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET  /stats - сводное состояние всех подсистем
//	├── GET  /symbols - отслеживаемые символы
//	├── PUT  /symbols - заменить список символов
//	├── GET  /bars - бары одной серии
//	├── GET  /leadlag - последний результат анализа
//	├── POST /leadlag/compute - немедленный пересчет
//	├── GET  /broker - состояние счета
//	├── POST /broker/reset - сброс счета
//	├── GET  /trades - сделки текущей сессии
//	├── GET  /trades/history - сделки из БД
//	├── GET  /trades/summary - агрегаты по БД
//	├── GET  /strategy - состояние стратегии
//	├── POST /strategy/enable - включить/выключить
//	├── GET  /strategy/params - параметры стратегии
//	├── PATCH /strategy/params - обновить параметры
//	└── POST /strategy/exclusions/clear - сбросить авто-исключения
//
// /ws/stream - WebSocket поток real-time обновлений
// /metrics   - Prometheus метрики
// /health    - проверка живости
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Log))
	router.Use(middleware.Logging(deps.Log))
	router.Use(middleware.CORS)

	feedHandler := handlers.NewFeedHandler(deps.Feed)
	leadlagHandler := handlers.NewLeadLagHandler(deps.Analyzer)
	brokerHandler := handlers.NewBrokerHandler(deps.Broker, deps.TradeStore)
	strategyHandler := handlers.NewStrategyHandler(deps.Strategy)
	statsHandler := handlers.NewStatsHandler(deps.Feed, deps.Broker, deps.Strategy, deps.Analyzer, deps.Hub)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")

	api.HandleFunc("/symbols", feedHandler.GetSymbols).Methods("GET")
	api.HandleFunc("/symbols", feedHandler.SetSymbols).Methods("PUT")
	api.HandleFunc("/bars", feedHandler.GetBars).Methods("GET")

	api.HandleFunc("/leadlag", leadlagHandler.GetLatest).Methods("GET")
	api.HandleFunc("/leadlag/compute", leadlagHandler.Compute).Methods("POST")

	api.HandleFunc("/broker", brokerHandler.GetState).Methods("GET")
	api.HandleFunc("/broker/reset", brokerHandler.Reset).Methods("POST")
	api.HandleFunc("/trades", brokerHandler.GetTrades).Methods("GET")
	api.HandleFunc("/trades/history", brokerHandler.GetHistory).Methods("GET")
	api.HandleFunc("/trades/summary", brokerHandler.GetSummary).Methods("GET")

	api.HandleFunc("/strategy", strategyHandler.GetStatus).Methods("GET")
	api.HandleFunc("/strategy/enable", strategyHandler.Enable).Methods("POST")
	api.HandleFunc("/strategy/params", strategyHandler.GetParams).Methods("GET")
	api.HandleFunc("/strategy/params", strategyHandler.UpdateParams).Methods("PATCH")
	api.HandleFunc("/strategy/exclusions/clear", strategyHandler.ClearExclusions).Methods("POST")

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
