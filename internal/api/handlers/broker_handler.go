package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadlag/internal/models"
	"leadlag/internal/repository"
)

// BrokerService - операции бумажного брокера, нужные HTTP слою
type BrokerService interface {
	State() models.BrokerState
	Stats() models.BrokerStats
	Trades() []models.Trade
	Reset()
}

// TradeStore - чтение журнала сделок из БД. Может отсутствовать,
// если сервер запущен без Postgres.
type TradeStore interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Trade, error)
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error)
	Summary(ctx context.Context) (*repository.TradeSummary, error)
}

const storeQueryTimeout = 5 * time.Second

// BrokerHandler обрабатывает HTTP запросы к состоянию брокера и журналу сделок.
//
// Endpoints:
// - GET /api/v1/broker - состояние счета и открытая позиция
// - POST /api/v1/broker/reset - сброс счета к стартовому капиталу
// - GET /api/v1/trades?symbol=&limit= - сделки текущей сессии
// - GET /api/v1/trades/history?symbol=&limit= - сделки из БД
// - GET /api/v1/trades/summary - агрегаты по БД
type BrokerHandler struct {
	broker BrokerService
	store  TradeStore
}

// NewBrokerHandler создает новый BrokerHandler. store может быть nil.
func NewBrokerHandler(broker BrokerService, store TradeStore) *BrokerHandler {
	return &BrokerHandler{broker: broker, store: store}
}

// GetState возвращает текущее состояние счета
//
// GET /api/v1/broker
func (h *BrokerHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": h.broker.State(),
		"stats": h.broker.Stats(),
	})
}

// Reset сбрасывает счет: кэш к стартовому капиталу, позиция и журнал
// сессии очищаются. Сохраненные в БД сделки не трогаются.
//
// POST /api/v1/broker/reset
func (h *BrokerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.broker.Reset()
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "broker reset"})
}

// GetTrades возвращает закрытые сделки текущей сессии, новые первыми
//
// GET /api/v1/trades?symbol=BTCUSDT&limit=50
func (h *BrokerHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	symbol, limit, ok := tradeQuery(w, r)
	if !ok {
		return
	}

	all := h.broker.Trades()
	trades := make([]models.Trade, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(trades) < limit; i-- {
		if symbol != "" && all[i].Symbol != symbol {
			continue
		}
		trades = append(trades, all[i])
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// GetHistory возвращает сделки из БД, новые первыми
//
// GET /api/v1/trades/history?symbol=BTCUSDT&limit=50
//
// Response 503, если сервер запущен без БД.
func (h *BrokerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history storage is not configured", nil)
		return
	}

	symbol, limit, ok := tradeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeQueryTimeout)
	defer cancel()

	var (
		trades []*models.Trade
		err    error
	)
	if symbol != "" {
		trades, err = h.store.GetBySymbol(ctx, symbol, limit)
	} else {
		trades, err = h.store.GetRecent(ctx, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trades", err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// GetSummary возвращает агрегаты по журналу сделок в БД
//
// GET /api/v1/trades/summary
func (h *BrokerHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history storage is not configured", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeQueryTimeout)
	defer cancel()

	summary, err := h.store.Summary(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load summary", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func tradeQuery(w http.ResponseWriter, r *http.Request) (symbol string, limit int, ok bool) {
	symbol = strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return "", 0, false
		}
		limit = n
	}
	return symbol, limit, true
}
