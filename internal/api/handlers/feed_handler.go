package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"leadlag/internal/models"
)

// FeedService - операции фида, нужные HTTP слою
type FeedService interface {
	Symbols() []string
	SetSymbols(symbols []string) error
	GetBars(key models.SeriesKey, n int) []models.Bar
	Stats() models.FeedStats
	BarInterval() time.Duration
}

// FeedHandler обрабатывает HTTP запросы к рыночным данным.
//
// Endpoints:
// - GET /api/v1/symbols - текущий список отслеживаемых символов
// - PUT /api/v1/symbols - заменить список символов
// - GET /api/v1/bars?symbol=BTCUSDT&source=BT&limit=100 - бары серии
type FeedHandler struct {
	feed FeedService
}

// NewFeedHandler создает новый FeedHandler
func NewFeedHandler(feed FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// GetSymbols возвращает отслеживаемые символы
//
// GET /api/v1/symbols
//
// Response 200 OK:
//
//	{"symbols": ["BTCUSDT", "ETHUSDT"]}
func (h *FeedHandler) GetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.feed.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

// SetSymbols заменяет список отслеживаемых символов
//
// PUT /api/v1/symbols
// Body: {"symbols": ["BTCUSDT", "ETHUSDT"]}
//
// Подписки на биржах обновляются дельтой: убранные символы
// отписываются, новые подписываются, история убранных серий
// освобождается.
func (h *FeedHandler) SetSymbols(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbols []string `json:"symbols"`
	}
	if err := apiJSON.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols list is empty", nil)
		return
	}

	if err := h.feed.SetSymbols(req.Symbols); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to set symbols", err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Message: "symbols updated",
		Data:    map[string]interface{}{"symbols": h.feed.Symbols()},
	})
}

// GetBars возвращает последние бары одной серии
//
// GET /api/v1/bars?symbol=BTCUSDT&source=BT&limit=100
//
// Response 200 OK:
//
//	{
//	  "symbol": "BTCUSDT",
//	  "source": "BT",
//	  "interval_ms": 500,
//	  "bars": [{"ts": "...", "mid": 50000.5, "r": 0.0001}]
//	}
func (h *FeedHandler) GetBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required", nil)
		return
	}

	source := models.Source(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("source"))))
	if !models.IsValidSource(source) {
		writeError(w, http.StatusBadRequest, "unknown source", nil)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	key := models.SeriesKey{Symbol: symbol, Source: source}
	bars := h.feed.GetBars(key, limit)
	if bars == nil {
		bars = []models.Bar{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":      symbol,
		"source":      source,
		"interval_ms": h.feed.BarInterval().Milliseconds(),
		"bars":        bars,
	})
}
