package feed

import (
	"context"
	"time"

	"leadlag/internal/models"
)

// TickUpdate - нормализованное тиковое обновление от биржи
//
// Адаптеры бирж приводят свои форматы к этой структуре; нулевые поля
// означают "нет данных в этом сообщении" (частичные обновления Bybit)
type TickUpdate struct {
	Symbol     string
	Bid        float64
	Ask        float64
	Last       float64
	Mark       float64
	ExchangeTs time.Time
}

// SubscribeMode - режим подписки на символ
//
// Primary - основной канал (tickers / bookTicker), Fallback -
// альтернативный канал при деградации primary (publicTrade / trade)
type SubscribeMode int

const (
	ModePrimary SubscribeMode = iota
	ModeFallback
)

func (m SubscribeMode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "primary"
}

// SourceAdapter нормализует протокол конкретной биржи
//
// Адаптер не владеет соединением: Manager отправляет возвращённые
// сообщения подписки через WSConn и передаёт входящие байты в Parse
type SourceAdapter interface {
	// Source возвращает идентификатор источника
	Source() models.Source
	// URL возвращает WebSocket endpoint
	URL() string
	// SubscribeMsg возвращает сообщение подписки на символы
	SubscribeMsg(symbols []string, mode SubscribeMode) interface{}
	// UnsubscribeMsg возвращает сообщение отписки от символов
	UnsubscribeMsg(symbols []string, mode SubscribeMode) interface{}
	// Parse разбирает входящее сообщение
	// Возвращает nil, nil для служебных сообщений (ack, pong);
	// ошибку - для некорректного payload
	Parse(raw []byte) (*TickUpdate, error)
	// FetchReference запрашивает эталонную цену символа через REST
	// (используется для коррекции масштаба)
	FetchReference(ctx context.Context, symbol string) (float64, error)
}
