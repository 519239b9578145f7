package models

import "time"

// BrokerStats - агрегированная статистика бумажного брокера
type BrokerStats struct {
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalNetPnl   float64 `json:"total_net_pnl"`
	TotalGrossPnl float64 `json:"total_gross_pnl"`
	TotalFees     float64 `json:"total_fees"`
	TotalSlippage float64 `json:"total_slippage"`
}

// BrokerState - снапшот состояния брокера для внешних потребителей
//
// Position - копия (nil если позиции нет), Trades - копия хвоста истории.
// Инвариант: Equity = Cash + Notional + UnrealizedPnl при открытой позиции,
// Equity = Cash без позиции.
type BrokerState struct {
	Cash          float64     `json:"cash"`
	Equity        float64     `json:"equity"`
	UnrealizedPnl float64     `json:"unrealized_pnl"`
	Position      *Position   `json:"position"`
	Trades        []Trade     `json:"trades"`
	Stats         BrokerStats `json:"stats"`
}

// SourceStats - статистика одного источника данных
type SourceStats struct {
	Source       Source    `json:"source"`
	State        string    `json:"state"`
	Messages     int64     `json:"messages"`
	Malformed    int64     `json:"malformed"`
	Reconnects   int64     `json:"reconnects"`
	Corrections  int64     `json:"scale_corrections"`
	LastMessage  time.Time `json:"last_message"`
	Subscribed   int       `json:"subscribed_symbols"`
	FallbackMode bool      `json:"fallback_mode"`
}

// FeedStats - статистика менеджера фидов
type FeedStats struct {
	Running bool          `json:"running"`
	Symbols []string      `json:"symbols"`
	Series  int           `json:"series"`
	Sources []SourceStats `json:"sources"`
}

// Notification - транзиентное уведомление для broadcast потребителей
type Notification struct {
	Type      string    `json:"type"` // OPEN, CLOSE, DEGRADED, ERROR
	Message   string    `json:"message"`
	Symbol    string    `json:"symbol,omitempty"`
	Source    Source    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
