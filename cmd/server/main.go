package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leadlag/internal/api"
	"leadlag/internal/api/handlers"
	"leadlag/internal/broker"
	"leadlag/internal/config"
	"leadlag/internal/feed"
	"leadlag/internal/leadlag"
	"leadlag/internal/repository"
	"leadlag/internal/strategy"
	"leadlag/internal/websocket"
	"leadlag/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	log.Info("starting leadlag server",
		zap.Strings("symbols", cfg.Feed.Symbols),
		zap.Bool("db_enabled", cfg.Database.Enabled),
	)

	// БД опциональна: без неё журнал сделок живет в памяти сессии
	var tradeRepo *repository.TradeRepository
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		tradeRepo = repository.NewTradeRepository(db)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := tradeRepo.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatal("failed to ensure schema", zap.Error(err))
		}
		cancel()

		log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	}

	// WebSocket hub для real-time обновлений дашборда
	hub := websocket.NewHub(log)
	go hub.Run()

	// Менеджер рыночных данных: Bybit + Binance
	feedManager, err := feed.NewManager(
		feed.ManagerConfig{
			BarInterval:        cfg.Feed.BarInterval,
			RingCapacity:       cfg.Feed.RingCapacity,
			MaxSymbols:         cfg.Feed.MaxSymbols,
			RefRefreshInterval: cfg.Feed.RefRefreshInterval,
			Conn: feed.ConnConfig{
				InitialBackoff: cfg.Feed.ReconnectDelay,
				MaxBackoff:     cfg.Feed.MaxReconnectDelay,
				StaleAfter:     cfg.Feed.StaleAfter,
			},
		},
		[]feed.SourceAdapter{
			feed.NewBybitAdapter(),
			feed.NewBinanceAdapter(),
		},
		hub,
		log,
	)
	if err != nil {
		log.Fatal("failed to create feed manager", zap.Error(err))
	}

	if err := feedManager.SetSymbols(cfg.Feed.Symbols); err != nil {
		log.Fatal("failed to set symbols", zap.Error(err))
	}
	if err := feedManager.Start(); err != nil {
		log.Fatal("failed to start feed manager", zap.Error(err))
	}

	// Периодический lead-lag анализ поверх фида
	analyzer := leadlag.NewService(
		feedManager,
		hub,
		leadlag.Params{
			MaxLag:      cfg.Analysis.MaxLag,
			Window:      cfg.Analysis.Window,
			TopK:        cfg.Analysis.TopK,
			MinAbsCorr:  cfg.Analysis.MinAbsCorr,
			BarInterval: cfg.Feed.BarInterval,
		},
		cfg.Analysis.Interval,
		log,
	)
	analyzer.Start()

	// Бумажный брокер
	paperBroker := broker.New(broker.Config{
		InitialCash:  cfg.Broker.InitialCash,
		FeeBps:       cfg.Broker.FeeBps,
		SlippageBps:  cfg.Broker.SlippageBps,
		TP1CloseFrac: cfg.Broker.TP1CloseFrac,
		BEDwellBars:  cfg.Broker.BEDwellBars,
	}, log)

	// Типизированный nil в интерфейсе не считается отсутствием sink
	var sink strategy.TradeSink
	if tradeRepo != nil {
		sink = tradeRepo
	}

	strategyParams := strategy.DefaultParams()
	strategyParams.Interval = cfg.Strategy.Interval
	strategyParams.MinCorrelation = cfg.Strategy.MinCorrelation
	strategyParams.ImpulseZ = cfg.Strategy.ImpulseZ
	strategyParams.ConfirmZ = cfg.Strategy.ConfirmZ
	strategyParams.Notional = cfg.Strategy.Notional
	strategyParams.EdgeMultiple = cfg.Strategy.EdgeMultiple
	strategyParams.SetupTTLBars = cfg.Strategy.SetupTTLBars
	strategyParams.CooldownBars = cfg.Strategy.CooldownBars
	strategyParams.MaxHoldBars = cfg.Strategy.MaxHoldBars
	strategyParams.MaxTradesPerHour = cfg.Strategy.MaxTradesPerHour

	strat := strategy.New(feedManager, analyzer, paperBroker, sink, hub, strategyParams, log)
	strat.Enable(cfg.Strategy.AutoStart)
	strat.Start()

	var store handlers.TradeStore
	if tradeRepo != nil {
		store = tradeRepo
	}

	router := api.SetupRoutes(&api.Dependencies{
		Feed:       feedManager,
		Analyzer:   analyzer,
		Broker:     paperBroker,
		Strategy:   strat,
		TradeStore: store,
		Hub:        hub,
		Log:        log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Останавливаем в порядке, обратном запуску: сначала торговый
	// цикл, потом анализ и фид, последним HTTP
	strat.Stop()
	analyzer.Stop()
	feedManager.Stop()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// initDatabase создает подключение к базе данных с пулом соединений
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
