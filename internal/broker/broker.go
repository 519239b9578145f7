package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadlag/internal/models"
	"leadlag/pkg/utils"
)

// Ошибки брокера
var (
	// ErrPositionOpen - попытка открыть вторую позицию
	ErrPositionOpen = errors.New("broker: position already open")
	// ErrNoPosition - операция над отсутствующей позицией
	ErrNoPosition = errors.New("broker: no open position")
	// ErrInsufficientCash - нотционал превышает свободные средства
	ErrInsufficientCash = errors.New("broker: insufficient cash")
)

// Config - конфигурация бумажного брокера
type Config struct {
	// InitialCash - стартовый капитал
	InitialCash float64
	// FeeBps - комиссия в базисных пунктах на сторону (от нотционала входа)
	FeeBps float64
	// SlippageBps - проскальзывание в базисных пунктах на сторону
	SlippageBps float64
	// TP1CloseFrac - доля позиции, закрываемая на TP1
	TP1CloseFrac float64
	// BEDwellBars - баров после TP1 до взведения безубытка
	BEDwellBars int
	// MaxTrades - глубина хранимой истории сделок
	MaxTrades int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		InitialCash:  10000,
		FeeBps:       6,
		SlippageBps:  0,
		TP1CloseFrac: 0.5,
		BEDwellBars:  2,
		MaxTrades:    500,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.InitialCash <= 0 {
		c.InitialCash = def.InitialCash
	}
	if c.TP1CloseFrac <= 0 || c.TP1CloseFrac >= 1 {
		c.TP1CloseFrac = def.TP1CloseFrac
	}
	if c.BEDwellBars <= 0 {
		c.BEDwellBars = def.BEDwellBars
	}
	if c.MaxTrades <= 0 {
		c.MaxTrades = def.MaxTrades
	}
}

// PositionParams - параметры выходов открываемой позиции
// Все уровни заданы в лог-доходностях от цены входа
type PositionParams struct {
	TP1R        float64
	TP2R        float64
	SLR         float64
	MaxHoldBars int
	Metadata    map[string]string
}

// position - внутреннее состояние позиции поверх models.Position
type position struct {
	models.Position

	// Пропорциональные доли входных издержек для частичных закрытий
	entryFee  float64
	entrySlip float64

	tp1AtHoldBar  int
	lastHoldBarTs time.Time
	lastMid       float64
}

// Broker - бумажный брокер с единственной одновременной позицией
//
// Все цены - mid; исполнение мгновенное по текущему mid. Комиссия и
// проскальзывание списываются на каждую сторону от нотционала входа.
// Инвариант: Equity = Cash + Notional + UnrealizedPnl при открытой
// позиции, Equity = Cash без неё.
type Broker struct {
	cfg Config
	log *utils.Logger

	mu     sync.Mutex
	cash   float64
	pos    *position
	trades []models.Trade
	stats  models.BrokerStats

	nowFn func() time.Time
}

// New создаёт брокера со стартовым капиталом из конфигурации
func New(cfg Config, log *utils.Logger) *Broker {
	cfg.applyDefaults()
	return &Broker{
		cfg:   cfg,
		log:   log,
		cash:  cfg.InitialCash,
		nowFn: time.Now,
	}
}

// sideCost возвращает издержки одной стороны сделки
func (b *Broker) sideCost(notional float64) (fee, slip float64) {
	return notional * b.cfg.FeeBps / 10000, notional * b.cfg.SlippageBps / 10000
}

// Open открывает позицию
//
// Возвращает ErrPositionOpen при уже открытой позиции (любой символ):
// брокер держит максимум одну позицию одновременно
func (b *Broker) Open(symbol string, side string, mid, notional float64, p PositionParams) (*models.Position, error) {
	if !models.IsValidSide(side) {
		return nil, fmt.Errorf("broker: invalid side %q", side)
	}
	if mid <= 0 {
		return nil, fmt.Errorf("broker: non-positive mid %v", mid)
	}
	if notional <= 0 {
		return nil, fmt.Errorf("broker: non-positive notional %v", notional)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos != nil {
		return nil, ErrPositionOpen
	}

	fee, slip := b.sideCost(notional)
	total := notional + fee + slip
	if total > b.cash {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, total, b.cash)
	}

	b.cash -= total
	b.pos = &position{
		Position: models.Position{
			Symbol:      symbol,
			Side:        side,
			EntryMid:    mid,
			Notional:    notional,
			Qty:         notional / mid,
			OpenedAt:    b.nowFn(),
			MaxHoldBars: p.MaxHoldBars,
			TP1R:        p.TP1R,
			TP2R:        p.TP2R,
			SLR:         p.SLR,
			Metadata:    p.Metadata,
		},
		entryFee:  fee,
		entrySlip: slip,
		lastMid:   mid,
	}

	metricPositionsOpened.Inc()
	b.log.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("entry_mid", mid),
		zap.Float64("notional", notional))

	out := b.pos.Position
	return &out, nil
}

// signedReturn возвращает лог-доходность позиции при текущем mid
// (положительная = в пользу позиции)
func signedReturn(side string, entry, mid float64) float64 {
	r := utils.LogReturn(mid, entry)
	if side == models.SideSell {
		return -r
	}
	return r
}

// Update сверяет позицию с новым mid и исполняет сработавшие выходы
//
// Порядок проверки фиксирован: TP2, TP1 (частичное закрытие),
// безубыток, SL, лимит удержания. Возвращает сделку если выход
// сработал, иначе nil.
func (b *Broker) Update(symbol string, mid float64) (*models.Trade, error) {
	if mid <= 0 {
		return nil, fmt.Errorf("broker: non-positive mid %v", mid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos == nil || b.pos.Symbol != symbol {
		return nil, nil
	}

	b.pos.lastMid = mid
	r := signedReturn(b.pos.Side, b.pos.EntryMid, mid)

	switch {
	case b.pos.TP2R > 0 && r >= b.pos.TP2R:
		return b.closeLocked(mid, 1, models.CloseReasonTP2), nil

	case !b.pos.TP1Hit && b.pos.TP1R > 0 && r >= b.pos.TP1R:
		trade := b.closeLocked(mid, b.cfg.TP1CloseFrac, models.CloseReasonTP1)
		if b.pos != nil {
			b.pos.TP1Hit = true
			b.pos.tp1AtHoldBar = b.pos.HoldBars
		}
		return trade, nil

	case b.pos.BreakevenArmed && r <= 0:
		return b.closeLocked(mid, 1, models.CloseReasonBE), nil

	case b.pos.SLR > 0 && r <= -b.pos.SLR:
		return b.closeLocked(mid, 1, models.CloseReasonSL), nil

	case b.pos.MaxHoldBars > 0 && b.pos.HoldBars >= b.pos.MaxHoldBars:
		return b.closeLocked(mid, 1, models.CloseReasonTime), nil
	}

	return nil, nil
}

// AdvanceHold засчитывает закрытый бар удержания
//
// Идемпотентен по barTs: повторный вызов с тем же timestamp - no-op.
// После TP1 и выдержки BEDwellBars взводит безубыток.
func (b *Broker) AdvanceHold(symbol string, barTs time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos == nil || b.pos.Symbol != symbol {
		return
	}
	if !barTs.After(b.pos.lastHoldBarTs) {
		return
	}

	b.pos.lastHoldBarTs = barTs
	b.pos.HoldBars++

	if b.pos.TP1Hit && !b.pos.BreakevenArmed &&
		b.pos.HoldBars-b.pos.tp1AtHoldBar >= b.cfg.BEDwellBars {
		b.pos.BreakevenArmed = true
		b.log.Info("breakeven armed",
			zap.String("symbol", b.pos.Symbol),
			zap.Int("hold_bars", b.pos.HoldBars))
	}
}

// Close принудительно закрывает позицию целиком
func (b *Broker) Close(symbol string, mid float64, reason string) (*models.Trade, error) {
	if mid <= 0 {
		return nil, fmt.Errorf("broker: non-positive mid %v", mid)
	}
	if !models.IsValidCloseReason(reason) {
		return nil, fmt.Errorf("broker: invalid close reason %q", reason)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos == nil || b.pos.Symbol != symbol {
		return nil, ErrNoPosition
	}
	return b.closeLocked(mid, 1, reason), nil
}

// closeLocked закрывает долю frac позиции по цене mid
// Вызывается только под b.mu
func (b *Broker) closeLocked(mid, frac float64, reason string) *models.Trade {
	pos := b.pos

	closedQty := pos.Qty * frac
	closedNotional := pos.Notional * frac

	var gross float64
	if pos.Side == models.SideBuy {
		gross = closedQty * (mid - pos.EntryMid)
	} else {
		gross = closedQty * (pos.EntryMid - mid)
	}

	exitFee, exitSlip := b.sideCost(closedNotional)
	entryFee := pos.entryFee * frac
	entrySlip := pos.entrySlip * frac

	fees := entryFee + exitFee
	slippage := entrySlip + exitSlip
	net := gross - fees - slippage

	b.cash += closedQty*mid - exitFee - exitSlip

	trade := models.Trade{
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		EntryMid: pos.EntryMid,
		ExitMid:  mid,
		Notional: closedNotional,
		Qty:      closedQty,
		GrossPnl: gross,
		Fees:     fees,
		Slippage: slippage,
		NetPnl:   net,
		Reason:   reason,
		OpenedAt: pos.OpenedAt,
		ClosedAt: b.nowFn(),
		HoldBars: pos.HoldBars,
		Metadata: pos.Metadata,
	}
	if pos.SLR > 0 && closedNotional > 0 {
		trade.RMultiple = net / (closedNotional * pos.SLR)
	}

	b.trades = append(b.trades, trade)
	if len(b.trades) > b.cfg.MaxTrades {
		b.trades = b.trades[len(b.trades)-b.cfg.MaxTrades:]
	}

	b.stats.TotalTrades++
	b.stats.TotalGrossPnl += gross
	b.stats.TotalFees += fees
	b.stats.TotalSlippage += slippage
	b.stats.TotalNetPnl += net
	switch {
	case net > 0:
		b.stats.Wins++
	case net < 0:
		b.stats.Losses++
	}

	metricTradesClosed.WithLabelValues(reason).Inc()
	metricNetPnl.Set(b.stats.TotalNetPnl)

	if frac >= 1 {
		b.pos = nil
	} else {
		pos.Qty -= closedQty
		pos.Notional -= closedNotional
		pos.entryFee -= entryFee
		pos.entrySlip -= entrySlip
	}

	b.log.Info("position closed",
		zap.String("symbol", trade.Symbol),
		zap.String("reason", reason),
		zap.Float64("frac", frac),
		zap.Float64("net_pnl", net))

	return &trade
}

// Position возвращает копию открытой позиции (nil если её нет)
func (b *Broker) Position() *models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos == nil {
		return nil
	}
	out := b.pos.Position
	return &out
}

// State возвращает снапшот состояния брокера
// Нереализованный PnL считается по последнему mid из Update
func (b *Broker) State() models.BrokerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := models.BrokerState{
		Cash:   b.cash,
		Equity: b.cash,
		Stats:  b.stats,
		Trades: make([]models.Trade, len(b.trades)),
	}
	copy(state.Trades, b.trades)

	if b.pos != nil {
		pos := b.pos.Position
		state.Position = &pos

		if b.pos.Side == models.SideBuy {
			state.UnrealizedPnl = b.pos.Qty * (b.pos.lastMid - b.pos.EntryMid)
		} else {
			state.UnrealizedPnl = b.pos.Qty * (b.pos.EntryMid - b.pos.lastMid)
		}
		state.Equity = b.cash + b.pos.Notional + state.UnrealizedPnl
	}
	return state
}

// RoundTripCost возвращает издержки полного оборота позиции в долях
// нотционала (комиссия и проскальзывание на обе стороны)
func (b *Broker) RoundTripCost() float64 {
	return 2 * (b.cfg.FeeBps + b.cfg.SlippageBps) / 10000
}

// Reset возвращает брокера к стартовому состоянию: капитал из
// конфигурации, без позиции, с пустой историей
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = b.cfg.InitialCash
	b.pos = nil
	b.trades = nil
	b.stats = models.BrokerStats{}
	b.log.Info("broker reset", zap.Float64("cash", b.cash))
}

// Trades возвращает копию журнала закрытых сделок, новые в конце
func (b *Broker) Trades() []models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// Stats возвращает агрегированную статистику сделок
func (b *Broker) Stats() models.BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
