package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"leadlag/internal/models"
	"leadlag/pkg/ratelimit"
)

var bybitJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
	bybitRESTURL = "https://api.bybit.com"
)

// BybitAdapter - адаптер Bybit v5 (linear perpetual)
//
// Primary канал: tickers.{symbol} - частичные обновления, нулевые поля
// в Parse означают "без изменений". Fallback: publicTrade.{symbol}
type BybitAdapter struct {
	wsURL   string
	restURL string
	client  *http.Client
	limiter *ratelimit.RateLimiter
}

// NewBybitAdapter создаёт адаптер с публичными endpoints Bybit
func NewBybitAdapter() *BybitAdapter {
	return &BybitAdapter{
		wsURL:   bybitWSURL,
		restURL: bybitRESTURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		// Публичный REST Bybit: держимся сильно ниже лимита биржи
		limiter: ratelimit.NewRateLimiter(5, 5),
	}
}

func (b *BybitAdapter) Source() models.Source { return models.SourceBT }

func (b *BybitAdapter) URL() string { return b.wsURL }

// bybitOpMsg - сообщение subscribe/unsubscribe протокола v5
type bybitOpMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func bybitTopics(symbols []string, mode SubscribeMode) []string {
	prefix := "tickers."
	if mode == ModeFallback {
		prefix = "publicTrade."
	}
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, prefix+strings.ToUpper(s))
	}
	return topics
}

func (b *BybitAdapter) SubscribeMsg(symbols []string, mode SubscribeMode) interface{} {
	return bybitOpMsg{Op: "subscribe", Args: bybitTopics(symbols, mode)}
}

func (b *BybitAdapter) UnsubscribeMsg(symbols []string, mode SubscribeMode) interface{} {
	return bybitOpMsg{Op: "unsubscribe", Args: bybitTopics(symbols, mode)}
}

// bybitWSMessage - конверт входящего сообщения
type bybitWSMessage struct {
	Topic   string              `json:"topic"`
	Type    string              `json:"type"`
	Ts      int64               `json:"ts"`
	Data    jsoniter.RawMessage `json:"data"`
	Op      string              `json:"op"`
	Success *bool               `json:"success,omitempty"`
}

// bybitTickerData - payload канала tickers
type bybitTickerData struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

// bybitTradeData - payload канала publicTrade (fallback)
type bybitTradeData struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Ts     int64  `json:"T"`
}

func (b *BybitAdapter) Parse(raw []byte) (*TickUpdate, error) {
	var msg bybitWSMessage
	if err := bybitJSON.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("bybit: unmarshal envelope: %w", err)
	}

	// Служебные ответы (subscribe ack, pong)
	if msg.Topic == "" {
		if msg.Success != nil && !*msg.Success {
			return nil, fmt.Errorf("bybit: op %q rejected", msg.Op)
		}
		return nil, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "tickers."):
		var data bybitTickerData
		if err := bybitJSON.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("bybit: unmarshal ticker: %w", err)
		}
		if data.Symbol == "" {
			return nil, fmt.Errorf("bybit: ticker without symbol")
		}

		tick := &TickUpdate{
			Symbol:     strings.ToUpper(data.Symbol),
			ExchangeTs: time.UnixMilli(msg.Ts),
		}
		// Delta-обновления: пустая строка = поле не менялось
		var err error
		if tick.Bid, err = bybitPrice(data.Bid1Price); err != nil {
			return nil, err
		}
		if tick.Ask, err = bybitPrice(data.Ask1Price); err != nil {
			return nil, err
		}
		if tick.Last, err = bybitPrice(data.LastPrice); err != nil {
			return nil, err
		}
		if tick.Mark, err = bybitPrice(data.MarkPrice); err != nil {
			return nil, err
		}
		return tick, nil

	case strings.HasPrefix(msg.Topic, "publicTrade."):
		var trades []bybitTradeData
		if err := bybitJSON.Unmarshal(msg.Data, &trades); err != nil {
			return nil, fmt.Errorf("bybit: unmarshal trades: %w", err)
		}
		if len(trades) == 0 {
			return nil, nil
		}
		last := trades[len(trades)-1]
		price, err := bybitPrice(last.Price)
		if err != nil {
			return nil, err
		}
		if price <= 0 {
			return nil, fmt.Errorf("bybit: trade with non-positive price")
		}
		return &TickUpdate{
			Symbol:     strings.ToUpper(last.Symbol),
			Last:       price,
			ExchangeTs: time.UnixMilli(last.Ts),
		}, nil
	}

	// Неизвестный топик - не ошибка
	return nil, nil
}

// bybitPrice разбирает строковую цену; пустая строка → 0 (нет данных)
func bybitPrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: bad price %q: %w", s, err)
	}
	return v, nil
}

// bybitTickersResponse - ответ REST /v5/market/tickers
type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

// FetchReference запрашивает последнюю цену символа через REST
func (b *BybitAdapter) FetchReference(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s",
		b.restURL, strings.ToUpper(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("bybit: create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bybit: fetch reference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bybit: reference request status %d", resp.StatusCode)
	}

	var out bybitTickersResponse
	if err := bybitJSON.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("bybit: decode reference: %w", err)
	}
	if out.RetCode != 0 {
		return 0, fmt.Errorf("bybit: reference retCode=%d msg=%s", out.RetCode, out.RetMsg)
	}
	if len(out.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: reference empty for %s", symbol)
	}

	price, err := strconv.ParseFloat(out.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: bad reference price: %w", err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("bybit: non-positive reference price for %s", symbol)
	}
	return price, nil
}
