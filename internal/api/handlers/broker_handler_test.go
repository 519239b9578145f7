package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadlag/internal/models"
	"leadlag/internal/repository"
)

func sessionTrade(symbol string, netPnl float64) models.Trade {
	return models.Trade{
		Symbol:   symbol,
		Side:     models.SideBuy,
		EntryMid: 100,
		ExitMid:  101,
		Notional: 100,
		Qty:      1,
		NetPnl:   netPnl,
		Reason:   models.CloseReasonTP2,
		OpenedAt: time.Now().Add(-time.Minute),
		ClosedAt: time.Now(),
	}
}

func TestBrokerHandler_GetState(t *testing.T) {
	mockBroker := NewMockBroker()
	mockBroker.state = models.BrokerState{Cash: 10000, Equity: 10000}
	handler := NewBrokerHandler(mockBroker, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/broker", nil)
	w := httptest.NewRecorder()

	handler.GetState(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		State models.BrokerState `json:"state"`
	}
	if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.State.Cash != 10000 {
		t.Errorf("expected cash 10000, got %f", response.State.Cash)
	}
}

func TestBrokerHandler_Reset(t *testing.T) {
	mockBroker := NewMockBroker()
	handler := NewBrokerHandler(mockBroker, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/broker/reset", nil)
	w := httptest.NewRecorder()

	handler.Reset(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if mockBroker.resets != 1 {
		t.Errorf("expected 1 reset call, got %d", mockBroker.resets)
	}
}

func TestBrokerHandler_GetTrades(t *testing.T) {
	t.Run("returns session trades newest first", func(t *testing.T) {
		mockBroker := NewMockBroker()
		mockBroker.trades = []models.Trade{
			sessionTrade("BTCUSDT", 1.0),
			sessionTrade("ETHUSDT", -0.5),
			sessionTrade("BTCUSDT", 2.0),
		}
		handler := NewBrokerHandler(mockBroker, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
		w := httptest.NewRecorder()

		handler.GetTrades(w, req)

		var response struct {
			Trades []models.Trade `json:"trades"`
		}
		if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Trades) != 3 {
			t.Fatalf("expected 3 trades, got %d", len(response.Trades))
		}
		if response.Trades[0].NetPnl != 2.0 {
			t.Errorf("expected newest trade first, got net_pnl %f", response.Trades[0].NetPnl)
		}
	})

	t.Run("filters by symbol and limit", func(t *testing.T) {
		mockBroker := NewMockBroker()
		mockBroker.trades = []models.Trade{
			sessionTrade("BTCUSDT", 1.0),
			sessionTrade("ETHUSDT", -0.5),
			sessionTrade("BTCUSDT", 2.0),
		}
		handler := NewBrokerHandler(mockBroker, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades?symbol=btcusdt&limit=1", nil)
		w := httptest.NewRecorder()

		handler.GetTrades(w, req)

		var response struct {
			Trades []models.Trade `json:"trades"`
		}
		if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Trades) != 1 {
			t.Fatalf("expected 1 trade, got %d", len(response.Trades))
		}
		if response.Trades[0].Symbol != "BTCUSDT" {
			t.Errorf("expected BTCUSDT, got %s", response.Trades[0].Symbol)
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		handler := NewBrokerHandler(NewMockBroker(), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades?limit=-1", nil)
		w := httptest.NewRecorder()

		handler.GetTrades(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestBrokerHandler_GetHistory(t *testing.T) {
	t.Run("returns 503 without store", func(t *testing.T) {
		handler := NewBrokerHandler(NewMockBroker(), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/history", nil)
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})

	t.Run("returns stored trades", func(t *testing.T) {
		store := NewMockTradeStore()
		tr := sessionTrade("BTCUSDT", 0.88)
		store.trades = []*models.Trade{&tr}
		handler := NewBrokerHandler(NewMockBroker(), store)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/history", nil)
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response struct {
			Trades []models.Trade `json:"trades"`
		}
		if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Trades) != 1 {
			t.Errorf("expected 1 trade, got %d", len(response.Trades))
		}
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		store := NewMockTradeStore()
		store.err = ErrMockDatabase
		handler := NewBrokerHandler(NewMockBroker(), store)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/history", nil)
		w := httptest.NewRecorder()

		handler.GetHistory(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestBrokerHandler_GetSummary(t *testing.T) {
	t.Run("returns summary", func(t *testing.T) {
		store := NewMockTradeStore()
		store.summary = &repository.TradeSummary{TotalTrades: 10, Wins: 6, Losses: 4, TotalNetPnl: 5.5}
		handler := NewBrokerHandler(NewMockBroker(), store)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/summary", nil)
		w := httptest.NewRecorder()

		handler.GetSummary(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response repository.TradeSummary
		if err := apiJSON.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.TotalTrades != 10 || response.Wins != 6 {
			t.Errorf("unexpected summary: %+v", response)
		}
	})

	t.Run("returns 503 without store", func(t *testing.T) {
		handler := NewBrokerHandler(NewMockBroker(), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trades/summary", nil)
		w := httptest.NewRecorder()

		handler.GetSummary(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})
}
