package handlers

import (
	"io"
	"net/http"

	"leadlag/internal/strategy"
)

// StrategyService - операции стратегии, нужные HTTP слою
type StrategyService interface {
	Enable(on bool)
	Enabled() bool
	Params() strategy.Params
	SetParams(p strategy.Params)
	Status() strategy.Status
	ClearExclusions()
}

// StrategyHandler обрабатывает HTTP запросы к торговой стратегии.
//
// Endpoints:
// - GET /api/v1/strategy - состояние стратегии
// - POST /api/v1/strategy/enable - включить/выключить
// - GET /api/v1/strategy/params - текущие параметры
// - PATCH /api/v1/strategy/params - обновить параметры
// - POST /api/v1/strategy/exclusions/clear - сбросить авто-исключения пар
type StrategyHandler struct {
	strategy StrategyService
}

// NewStrategyHandler создает новый StrategyHandler
func NewStrategyHandler(strategy StrategyService) *StrategyHandler {
	return &StrategyHandler{strategy: strategy}
}

// GetStatus возвращает полное состояние стратегии: режим, активный
// сетап, кулдаун, счетчики отклонений по гейтам
//
// GET /api/v1/strategy
func (h *StrategyHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.strategy.Status())
}

// Enable включает или выключает стратегию
//
// POST /api/v1/strategy/enable
// Body: {"enabled": true}
//
// Выключенная стратегия продолжает сопровождать открытую позицию,
// но новые сетапы не создает.
func (h *StrategyHandler) Enable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := apiJSON.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required", nil)
		return
	}

	h.strategy.Enable(*req.Enabled)
	writeJSON(w, http.StatusOK, SuccessResponse{
		Message: "strategy updated",
		Data:    map[string]bool{"enabled": h.strategy.Enabled()},
	})
}

// GetParams возвращает текущие параметры стратегии
//
// GET /api/v1/strategy/params
func (h *StrategyHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.strategy.Params())
}

// UpdateParams частично обновляет параметры стратегии
//
// PATCH /api/v1/strategy/params
// Body: {"min_correlation": 0.4, "strictness": 1.2}
//
// JSON декодируется поверх текущих параметров: не указанные поля
// сохраняют прежние значения. Активный сетап при смене параметров
// сбрасывается.
func (h *StrategyHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	params := h.strategy.Params()
	if err := apiJSON.NewDecoder(r.Body).Decode(&params); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid params", err)
		return
	}

	h.strategy.SetParams(params)
	writeJSON(w, http.StatusOK, h.strategy.Params())
}

// ClearExclusions сбрасывает авто-исключенные пары
//
// POST /api/v1/strategy/exclusions/clear
func (h *StrategyHandler) ClearExclusions(w http.ResponseWriter, r *http.Request) {
	h.strategy.ClearExclusions()
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "exclusions cleared"})
}
