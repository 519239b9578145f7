package models

import "time"

// Стороны сделки (закрытое перечисление)
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// IsValidSide проверяет допустимость стороны сделки
func IsValidSide(side string) bool {
	return side == SideBuy || side == SideSell
}

// Причины закрытия позиции (закрытое перечисление)
const (
	CloseReasonTP1    = "tp1"
	CloseReasonTP2    = "tp2"
	CloseReasonSL     = "sl"
	CloseReasonBE     = "be"
	CloseReasonTime   = "time"
	CloseReasonManual = "manual"
)

// IsValidCloseReason проверяет допустимость причины закрытия
func IsValidCloseReason(reason string) bool {
	switch reason {
	case CloseReasonTP1, CloseReasonTP2, CloseReasonSL, CloseReasonBE, CloseReasonTime, CloseReasonManual:
		return true
	}
	return false
}

// Position - открытая бумажная позиция (максимум одна, владелец - Broker)
type Position struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	EntryMid float64 `json:"entry_mid"`
	Notional float64 `json:"notional"` // оставшийся нотционал после частичных закрытий
	Qty      float64 `json:"qty"`      // оставшееся количество монет

	OpenedAt    time.Time `json:"opened_at"`
	HoldBars    int       `json:"hold_bars"`
	MaxHoldBars int       `json:"max_hold_bars"`

	// Пороги выхода в единицах логарифмической доходности
	TP1R float64 `json:"tp1_r"`
	TP2R float64 `json:"tp2_r"`
	SLR  float64 `json:"sl_r"`

	TP1Hit         bool `json:"tp1_hit"`
	BreakevenArmed bool `json:"breakeven_armed"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Trade - запись о закрытой сделке (неизменяемая, ограниченная история)
type Trade struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	EntryMid float64 `json:"entry_mid"`
	ExitMid  float64 `json:"exit_mid"`
	Notional float64 `json:"notional"` // исходный нотционал при открытии
	Qty      float64 `json:"qty"`      // исходное количество монет

	GrossPnl float64 `json:"gross_pnl"`
	Fees     float64 `json:"fees"`
	Slippage float64 `json:"slippage"`
	NetPnl   float64 `json:"net_pnl"`

	Reason   string    `json:"reason"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
	HoldBars int       `json:"hold_bars"`

	// RMultiple = NetPnl / (Notional * SLR) - результат в единицах риска
	RMultiple float64 `json:"r_multiple"`

	Metadata map[string]string `json:"metadata,omitempty"`
}
