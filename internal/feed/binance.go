package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"leadlag/internal/models"
	"leadlag/pkg/ratelimit"
)

var binanceJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	binanceWSURL   = "wss://fstream.binance.com/stream"
	binanceRESTURL = "https://fapi.binance.com"
)

// BinanceAdapter - адаптер Binance USDⓈ-M futures
//
// Primary канал: {symbol}@bookTicker - полные снапшоты bid/ask на
// каждое обновление книги. Fallback: {symbol}@trade
type BinanceAdapter struct {
	wsURL   string
	restURL string
	client  *http.Client
	limiter *ratelimit.RateLimiter
	// Протокол combined stream требует уникальный id в каждом запросе
	reqID int64
}

// NewBinanceAdapter создаёт адаптер с публичными endpoints Binance futures
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{
		wsURL:   binanceWSURL,
		restURL: binanceRESTURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: ratelimit.NewRateLimiter(5, 5),
	}
}

func (b *BinanceAdapter) Source() models.Source { return models.SourceBNB }

func (b *BinanceAdapter) URL() string { return b.wsURL }

// binanceOpMsg - сообщение SUBSCRIBE/UNSUBSCRIBE combined stream
type binanceOpMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func binanceStreams(symbols []string, mode SubscribeMode) []string {
	suffix := "@bookTicker"
	if mode == ModeFallback {
		suffix = "@trade"
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+suffix)
	}
	return streams
}

func (b *BinanceAdapter) SubscribeMsg(symbols []string, mode SubscribeMode) interface{} {
	return binanceOpMsg{
		Method: "SUBSCRIBE",
		Params: binanceStreams(symbols, mode),
		ID:     atomic.AddInt64(&b.reqID, 1),
	}
}

func (b *BinanceAdapter) UnsubscribeMsg(symbols []string, mode SubscribeMode) interface{} {
	return binanceOpMsg{
		Method: "UNSUBSCRIBE",
		Params: binanceStreams(symbols, mode),
		ID:     atomic.AddInt64(&b.reqID, 1),
	}
}

// binanceEnvelope - конверт combined stream
type binanceEnvelope struct {
	Stream string              `json:"stream"`
	Data   jsoniter.RawMessage `json:"data"`
}

// binanceBookTicker - payload {symbol}@bookTicker
type binanceBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
	EventTs  int64  `json:"E"`
}

// binanceTrade - payload {symbol}@trade (fallback)
type binanceTrade struct {
	Symbol  string `json:"s"`
	Price   string `json:"p"`
	TradeTs int64  `json:"T"`
}

func (b *BinanceAdapter) Parse(raw []byte) (*TickUpdate, error) {
	var env binanceEnvelope
	if err := binanceJSON.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("binance: unmarshal envelope: %w", err)
	}

	// Ответы SUBSCRIBE/UNSUBSCRIBE приходят без поля stream
	if env.Stream == "" {
		return nil, nil
	}

	switch {
	case strings.HasSuffix(env.Stream, "@bookTicker"):
		var data binanceBookTicker
		if err := binanceJSON.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("binance: unmarshal bookTicker: %w", err)
		}
		if data.Symbol == "" {
			return nil, fmt.Errorf("binance: bookTicker without symbol")
		}

		bid, err := binancePrice(data.BidPrice)
		if err != nil {
			return nil, err
		}
		ask, err := binancePrice(data.AskPrice)
		if err != nil {
			return nil, err
		}
		if bid <= 0 || ask <= 0 {
			return nil, fmt.Errorf("binance: bookTicker with non-positive quote")
		}

		return &TickUpdate{
			Symbol:     strings.ToUpper(data.Symbol),
			Bid:        bid,
			Ask:        ask,
			ExchangeTs: time.UnixMilli(data.EventTs),
		}, nil

	case strings.HasSuffix(env.Stream, "@trade"):
		var data binanceTrade
		if err := binanceJSON.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("binance: unmarshal trade: %w", err)
		}
		price, err := binancePrice(data.Price)
		if err != nil {
			return nil, err
		}
		if price <= 0 {
			return nil, fmt.Errorf("binance: trade with non-positive price")
		}
		return &TickUpdate{
			Symbol:     strings.ToUpper(data.Symbol),
			Last:       price,
			ExchangeTs: time.UnixMilli(data.TradeTs),
		}, nil
	}

	return nil, nil
}

func binancePrice(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: bad price %q: %w", s, err)
	}
	return v, nil
}

// binanceTickerPrice - ответ REST /fapi/v1/ticker/price
type binanceTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchReference запрашивает последнюю цену символа через REST
func (b *BinanceAdapter) FetchReference(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	url := fmt.Sprintf("%s/fapi/v1/ticker/price?symbol=%s", b.restURL, strings.ToUpper(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("binance: create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: fetch reference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("binance: reference request status %d", resp.StatusCode)
	}

	var out binanceTickerPrice
	if err := binanceJSON.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("binance: decode reference: %w", err)
	}

	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: bad reference price: %w", err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("binance: non-positive reference price for %s", symbol)
	}
	return price, nil
}
