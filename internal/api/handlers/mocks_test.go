package handlers

import (
	"context"
	"errors"
	"time"

	"leadlag/internal/leadlag"
	"leadlag/internal/models"
	"leadlag/internal/repository"
	"leadlag/internal/strategy"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Feed ============

type MockFeed struct {
	symbols  []string
	bars     map[models.SeriesKey][]models.Bar
	stats    models.FeedStats
	setErr   error
	interval time.Duration
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		bars:     make(map[models.SeriesKey][]models.Bar),
		interval: 500 * time.Millisecond,
	}
}

func (m *MockFeed) Symbols() []string { return m.symbols }

func (m *MockFeed) SetSymbols(symbols []string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.symbols = symbols
	return nil
}

func (m *MockFeed) GetBars(key models.SeriesKey, n int) []models.Bar {
	bars := m.bars[key]
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars
}

func (m *MockFeed) Stats() models.FeedStats    { return m.stats }
func (m *MockFeed) BarInterval() time.Duration { return m.interval }

// ============ Mock Analyzer ============

type MockAnalyzer struct {
	pairs     []models.PairResult
	updatedAt time.Time
	params    leadlag.Params
	computed  int
}

func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{params: leadlag.DefaultParams()}
}

func (m *MockAnalyzer) Latest() ([]models.PairResult, time.Time) {
	return m.pairs, m.updatedAt
}

func (m *MockAnalyzer) ComputeNow() []models.PairResult {
	m.computed++
	return m.pairs
}

func (m *MockAnalyzer) Params() leadlag.Params     { return m.params }
func (m *MockAnalyzer) SetParams(p leadlag.Params) { m.params = p }

// ============ Mock Broker ============

type MockBroker struct {
	state  models.BrokerState
	stats  models.BrokerStats
	trades []models.Trade
	resets int
}

func NewMockBroker() *MockBroker { return &MockBroker{} }

func (m *MockBroker) State() models.BrokerState { return m.state }
func (m *MockBroker) Stats() models.BrokerStats { return m.stats }
func (m *MockBroker) Trades() []models.Trade    { return m.trades }
func (m *MockBroker) Reset()                    { m.resets++ }

// ============ Mock Strategy ============

type MockStrategy struct {
	enabled bool
	params  strategy.Params
	status  strategy.Status
	cleared int
}

func NewMockStrategy() *MockStrategy {
	return &MockStrategy{params: strategy.DefaultParams()}
}

func (m *MockStrategy) Enable(on bool) { m.enabled = on }
func (m *MockStrategy) Enabled() bool  { return m.enabled }

func (m *MockStrategy) Params() strategy.Params     { return m.params }
func (m *MockStrategy) SetParams(p strategy.Params) { m.params = p }

func (m *MockStrategy) Status() strategy.Status {
	st := m.status
	st.Enabled = m.enabled
	return st
}

func (m *MockStrategy) ClearExclusions() { m.cleared++ }

// ============ Mock Trade Store ============

type MockTradeStore struct {
	trades  []*models.Trade
	summary *repository.TradeSummary
	err     error
}

func NewMockTradeStore() *MockTradeStore {
	return &MockTradeStore{summary: &repository.TradeSummary{}}
}

func (m *MockTradeStore) GetRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.trades) > limit {
		return m.trades[:limit], nil
	}
	return m.trades, nil
}

func (m *MockTradeStore) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Trade
	for _, tr := range m.trades {
		if tr.Symbol == symbol {
			out = append(out, tr)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockTradeStore) Summary(ctx context.Context) (*repository.TradeSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}
