package handlers

import (
	"io"
	"net/http"
	"time"

	"leadlag/internal/leadlag"
	"leadlag/internal/models"
)

// AnalysisService - операции lead-lag анализа, нужные HTTP слою
type AnalysisService interface {
	Latest() ([]models.PairResult, time.Time)
	ComputeNow() []models.PairResult
	Params() leadlag.Params
	SetParams(p leadlag.Params)
}

// LeadLagHandler обрабатывает HTTP запросы к результатам анализа.
//
// Endpoints:
// - GET /api/v1/leadlag - последний кэшированный результат
// - POST /api/v1/leadlag/compute - пересчитать немедленно
type LeadLagHandler struct {
	analyzer AnalysisService
}

// NewLeadLagHandler создает новый LeadLagHandler
func NewLeadLagHandler(analyzer AnalysisService) *LeadLagHandler {
	return &LeadLagHandler{analyzer: analyzer}
}

// GetLatest возвращает последний результат периодического пересчета
//
// GET /api/v1/leadlag
//
// Response 200 OK:
//
//	{
//	  "updated_at": "2026-01-15T12:00:00Z",
//	  "pairs": [
//	    {
//	      "leader": "BTCUSDT@BNB",
//	      "follower": "BTCUSDT@BT",
//	      "best_lag": 2,
//	      "best_lag_ms": 1000,
//	      "correlation": 0.83,
//	      "confirm_score": 3,
//	      "confirm_label": "OK"
//	    }
//	  ]
//	}
func (h *LeadLagHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	pairs, updatedAt := h.analyzer.Latest()
	if pairs == nil {
		pairs = []models.PairResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"updated_at": updatedAt,
		"pairs":      pairs,
	})
}

// Compute запускает немедленный пересчет вне расписания
//
// POST /api/v1/leadlag/compute
// Body (опционально): {"top_k": 10}
//
// top_k из тела урезает только этот ответ, параметры сервиса
// не меняются.
func (h *LeadLagHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopK int `json:"top_k"`
	}
	if err := apiJSON.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	pairs := h.analyzer.ComputeNow()
	if pairs == nil {
		pairs = []models.PairResult{}
	}
	if req.TopK > 0 && len(pairs) > req.TopK {
		pairs = pairs[:req.TopK]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pairs": pairs,
	})
}
