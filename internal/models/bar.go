package models

import "time"

// Source - источник рыночных данных (биржа)
type Source string

const (
	// SourceBT - основная биржа (Bybit)
	SourceBT Source = "BT"
	// SourceBNB - вторая биржа (Binance)
	SourceBNB Source = "BNB"
)

// AllSources перечисляет все поддерживаемые источники
var AllSources = []Source{SourceBT, SourceBNB}

// IsValidSource проверяет что источник известен
func IsValidSource(s Source) bool {
	return s == SourceBT || s == SourceBNB
}

// SeriesKey - составной ключ временного ряда (symbol, source)
// Go оптимизирует struct keys в map, конкатенация строк не нужна
type SeriesKey struct {
	Symbol string `json:"symbol"`
	Source Source `json:"source"`
}

// String возвращает читаемое представление ключа для логов
func (k SeriesKey) String() string {
	return k.Symbol + "@" + string(k.Source)
}

// Bar - бар логарифмической доходности за фиксированный интервал
//
// Неизменяемый после создания. Один бар на интервал на серию.
// Return = ln(Mid / prevBarMid), для первого бара серии = 0.
type Bar struct {
	Ts     time.Time `json:"ts"`
	Symbol string    `json:"symbol"`
	Source Source    `json:"source"`
	Mid    float64   `json:"mid"`
	Return float64   `json:"r"`
}
