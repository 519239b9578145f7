package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadlag/internal/broker"
	"leadlag/internal/models"
	"leadlag/pkg/utils"
)

// Причины отбраковки сигнала (закрытое перечисление счётчиков)
const (
	RejectNoCandidates  = "no_candidate_pairs"
	RejectInterExchange = "gating_inter_exchange"
	RejectCorrelation   = "correlation"
	RejectImpulse       = "impulse"
	RejectEdge          = "edge"
	RejectConfirmation  = "confirmation"
	RejectSetupExpired  = "setup_expired"
	RejectHourlyCap     = "hourly_cap"
)

// Params - параметры стратегии
type Params struct {
	// Interval - период тика стратегии
	Interval time.Duration `json:"-"`

	// MinCorrelation - базовый порог |corr| для создания сетапа
	MinCorrelation float64 `json:"min_correlation"`
	// Strictness - множитель жёсткости порогов корреляции и импульса
	Strictness float64 `json:"strictness"`
	// ImpulseZ - порог импульса лидера в сигмах его доходностей
	ImpulseZ float64 `json:"impulse_z"`
	// ConfirmZ - порог подтверждающего бара фолловера в сигмах
	ConfirmZ float64 `json:"confirm_z"`

	// LeaderTrendBars - окно тренда лидера для доп. подтверждения (0 = выкл)
	LeaderTrendBars int `json:"leader_trend_bars"`
	// LeaderTrendMin - минимальная средняя доходность тренда по знаку сетапа
	LeaderTrendMin float64 `json:"leader_trend_min"`

	// TP2VolMult - TP2 в сигмах фолловера
	TP2VolMult float64 `json:"tp2_vol_mult"`
	// TP1Frac - TP1 как доля TP2
	TP1Frac float64 `json:"tp1_frac"`
	// SLVolMult - стоп в сигмах фолловера
	SLVolMult float64 `json:"sl_vol_mult"`
	// MaxHoldBars - лимит удержания позиции в барах
	MaxHoldBars int `json:"max_hold_bars"`

	// SetupTTLBars - время жизни сетапа в барах лидера
	SetupTTLBars int `json:"setup_ttl_bars"`
	// CooldownBars - пауза после закрытия сделки в барах
	CooldownBars int `json:"cooldown_bars"`
	// EdgeMultiple - множитель издержек оборота для edge-гейта
	EdgeMultiple float64 `json:"edge_multiple"`

	// Notional - нотционал входа
	Notional float64 `json:"notional"`
	// RiskModeEnabled - допуск пограничных импульсов с уменьшенным размером
	RiskModeEnabled bool `json:"risk_mode_enabled"`
	// RiskImpulseFrac - нижняя граница пограничного импульса (доля порога)
	RiskImpulseFrac float64 `json:"risk_impulse_frac"`
	// RiskModeFrac - доля нотционала для пограничных входов
	RiskModeFrac float64 `json:"risk_mode_frac"`
	// MaxTradesPerHour - потолок открытий в час
	MaxTradesPerHour int `json:"max_trades_per_hour"`

	// VolWindow - окно оценки волатильности в барах
	VolWindow int `json:"vol_window"`
	// NoMatchLimit - пропусков подряд до автоисключения серии (0 = выкл)
	NoMatchLimit int `json:"no_match_limit"`

	// InterExchangeOnly - торговать только межбиржевые пары
	InterExchangeOnly bool `json:"inter_exchange_only"`
	// SameBaseOnly - лидер и фолловер должны быть одним символом
	SameBaseOnly bool `json:"same_base_only"`
	// AllowedSources - допустимые источники (пусто = все)
	AllowedSources []models.Source `json:"allowed_sources,omitempty"`
	// FixedLeaders - фиксированный список лидеров "SYM@SRC" (пусто = любые)
	FixedLeaders []string `json:"fixed_leaders,omitempty"`

	// DebugBypassImpulse - обход импульсного гейта (только отладка)
	DebugBypassImpulse bool `json:"debug_bypass_impulse"`
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		Interval:          250 * time.Millisecond,
		MinCorrelation:    0.35,
		Strictness:        1.0,
		ImpulseZ:          2.5,
		ConfirmZ:          0.5,
		TP2VolMult:        6,
		TP1Frac:           0.5,
		SLVolMult:         3,
		MaxHoldBars:       60,
		SetupTTLBars:      3,
		CooldownBars:      10,
		EdgeMultiple:      5,
		Notional:          100,
		RiskImpulseFrac:   0.7,
		RiskModeFrac:      0.5,
		MaxTradesPerHour:  6,
		VolWindow:         120,
		NoMatchLimit:      20,
		InterExchangeOnly: true,
		SameBaseOnly:      true,
	}
}

func (p *Params) applyDefaults() {
	def := DefaultParams()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.MinCorrelation <= 0 {
		p.MinCorrelation = def.MinCorrelation
	}
	if p.Strictness <= 0 {
		p.Strictness = def.Strictness
	}
	if p.ImpulseZ <= 0 {
		p.ImpulseZ = def.ImpulseZ
	}
	if p.ConfirmZ <= 0 {
		p.ConfirmZ = def.ConfirmZ
	}
	if p.TP2VolMult <= 0 {
		p.TP2VolMult = def.TP2VolMult
	}
	if p.TP1Frac <= 0 || p.TP1Frac >= 1 {
		p.TP1Frac = def.TP1Frac
	}
	if p.SLVolMult <= 0 {
		p.SLVolMult = def.SLVolMult
	}
	if p.MaxHoldBars <= 0 {
		p.MaxHoldBars = def.MaxHoldBars
	}
	if p.SetupTTLBars <= 0 {
		p.SetupTTLBars = def.SetupTTLBars
	}
	if p.CooldownBars < 0 {
		p.CooldownBars = def.CooldownBars
	}
	if p.EdgeMultiple <= 0 {
		p.EdgeMultiple = def.EdgeMultiple
	}
	if p.Notional <= 0 {
		p.Notional = def.Notional
	}
	if p.RiskImpulseFrac <= 0 || p.RiskImpulseFrac >= 1 {
		p.RiskImpulseFrac = def.RiskImpulseFrac
	}
	if p.RiskModeFrac <= 0 || p.RiskModeFrac > 1 {
		p.RiskModeFrac = def.RiskModeFrac
	}
	if p.MaxTradesPerHour <= 0 {
		p.MaxTradesPerHour = def.MaxTradesPerHour
	}
	if p.VolWindow <= 0 {
		p.VolWindow = def.VolWindow
	}
}

// Validate проверяет согласованность параметров, пришедших извне
func (p Params) Validate() error {
	switch {
	case p.MinCorrelation <= 0 || p.MinCorrelation >= 1:
		return fmt.Errorf("min_correlation must be in (0, 1), got %v", p.MinCorrelation)
	case p.Strictness <= 0:
		return fmt.Errorf("strictness must be positive, got %v", p.Strictness)
	case p.ImpulseZ <= 0:
		return fmt.Errorf("impulse_z must be positive, got %v", p.ImpulseZ)
	case p.ConfirmZ <= 0:
		return fmt.Errorf("confirm_z must be positive, got %v", p.ConfirmZ)
	case p.TP1Frac <= 0 || p.TP1Frac >= 1:
		return fmt.Errorf("tp1_frac must be in (0, 1), got %v", p.TP1Frac)
	case p.TP2VolMult <= 0 || p.SLVolMult <= 0:
		return fmt.Errorf("tp2_vol_mult and sl_vol_mult must be positive")
	case p.Notional <= 0:
		return fmt.Errorf("notional must be positive, got %v", p.Notional)
	case p.RiskImpulseFrac <= 0 || p.RiskImpulseFrac >= 1:
		return fmt.Errorf("risk_impulse_frac must be in (0, 1), got %v", p.RiskImpulseFrac)
	case p.RiskModeFrac <= 0 || p.RiskModeFrac > 1:
		return fmt.Errorf("risk_mode_frac must be in (0, 1], got %v", p.RiskModeFrac)
	case p.MaxHoldBars < 0 || p.SetupTTLBars < 0 || p.CooldownBars < 0:
		return fmt.Errorf("bar counters must not be negative")
	}
	for _, src := range p.AllowedSources {
		if !models.IsValidSource(src) {
			return fmt.Errorf("unknown source %q in allowed_sources", src)
		}
	}
	return nil
}

// FeedSource - срез Feed Manager, нужный стратегии
type FeedSource interface {
	Stats() models.FeedStats
	GetMid(key models.SeriesKey) (float64, bool)
	GetReturns(n int) map[models.SeriesKey][]float64
	LastBarTs(key models.SeriesKey) (time.Time, bool)
}

// Analyzer - источник результатов лаг-анализа
type Analyzer interface {
	Latest() ([]models.PairResult, time.Time)
}

// TradeSink - потребитель закрытых сделок (журнал в БД)
// Ошибки записи не влияют на торговый цикл
type TradeSink interface {
	SaveTrade(ctx context.Context, trade *models.Trade) error
}

// Broadcaster - получатель событий стратегии
type Broadcaster interface {
	Emit(topic string, payload interface{})
}

// Минимум баров для оценки волатильности
const minVolSamples = 10

// pendingSetup - кандидат на сделку, ждущий подтверждающего бара
// фолловера. Одновременно существует максимум один.
type pendingSetup struct {
	leader   models.SeriesKey
	follower models.SeriesKey
	side     string

	correlation     float64
	leaderReturn    float64
	leaderThreshold float64

	tp1R      float64
	tp2R      float64
	slR       float64
	edgeFloor float64

	ttlBars  int
	riskMode bool

	createdAt         time.Time
	lastFollowerBarTs time.Time
}

// RejectionStats - счётчики отбраковки с дистанцией до прохода
type RejectionStats struct {
	Counts       map[string]int64   `json:"counts"`
	LastDistance map[string]float64 `json:"last_distance"`
}

// Status - снапшот состояния стратегии
type Status struct {
	Enabled      bool           `json:"enabled"`
	State        string         `json:"state"` // idle, setup_pending, position_open, cooldown
	CooldownLeft int            `json:"cooldown_left"`
	Setup        *SetupInfo     `json:"setup,omitempty"`
	Excluded     []string       `json:"excluded_series,omitempty"`
	Rejections   RejectionStats `json:"rejections"`
}

// SetupInfo - публичное описание ожидающего сетапа
type SetupInfo struct {
	Leader      string  `json:"leader"`
	Follower    string  `json:"follower"`
	Side        string  `json:"side"`
	Correlation float64 `json:"correlation"`
	TTLBars     int     `json:"ttl_bars"`
	RiskMode    bool    `json:"risk_mode"`
}

// Strategy - торговый цикл поверх лаг-анализа и бумажного брокера
//
// Машина состояний: Idle → Setup-Pending → Position-Open → cooldown.
// Вся мутация состояния происходит в Tick под s.mu; внешние вызовы
// (Enable, SetParams) сериализуются тем же мьютексом.
type Strategy struct {
	feed        FeedSource
	analyzer    Analyzer
	broker      *broker.Broker
	sink        TradeSink
	broadcaster Broadcaster
	log         *utils.Logger

	mu      sync.Mutex
	params  Params
	enabled bool

	setup           *pendingSetup
	activeFollower  models.SeriesKey
	lastLeaderBarTs time.Time
	lastHoldBarTs   time.Time
	cooldownLeft    int

	noMatch       map[models.SeriesKey]int
	excluded      map[models.SeriesKey]bool
	lastResultsAt time.Time

	recentOpens []time.Time

	rejections   map[string]int64
	lastDistance map[string]float64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nowFn func() time.Time
}

// New создаёт стратегию (выключенную; торговля начинается после Enable)
func New(feed FeedSource, analyzer Analyzer, b *broker.Broker, sink TradeSink, broadcaster Broadcaster, params Params, log *utils.Logger) *Strategy {
	params.applyDefaults()
	return &Strategy{
		feed:         feed,
		analyzer:     analyzer,
		broker:       b,
		sink:         sink,
		broadcaster:  broadcaster,
		log:          log,
		params:       params,
		noMatch:      make(map[models.SeriesKey]int),
		excluded:     make(map[models.SeriesKey]bool),
		rejections:   make(map[string]int64),
		lastDistance: make(map[string]float64),
		stopChan:     make(chan struct{}),
		nowFn:        time.Now,
	}
}

// Start запускает периодический тик
func (s *Strategy) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("strategy started", zap.Duration("interval", s.params.Interval))
}

// Stop останавливает тик (позиция и сетап сохраняются в памяти)
func (s *Strategy) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.log.Info("strategy stopped")
}

func (s *Strategy) loop() {
	defer s.wg.Done()

	s.mu.Lock()
	interval := s.params.Interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Enable включает или выключает создание новых сетапов
// Открытая позиция продолжает управляться независимо от флага
func (s *Strategy) Enable(on bool) {
	s.mu.Lock()
	s.enabled = on
	if !on {
		s.setup = nil
	}
	s.mu.Unlock()
	s.log.Info("strategy enabled flag changed", zap.Bool("enabled", on))
}

// Enabled возвращает текущий флаг
func (s *Strategy) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Params возвращает текущие параметры
func (s *Strategy) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetParams заменяет параметры; ожидающий сетап сбрасывается,
// поскольку его пороги считались от старых значений
func (s *Strategy) SetParams(p Params) {
	p.applyDefaults()
	s.mu.Lock()
	s.params = p
	s.setup = nil
	s.mu.Unlock()
	s.log.Info("strategy params updated",
		zap.Float64("min_correlation", p.MinCorrelation),
		zap.Float64("impulse_z", p.ImpulseZ),
		zap.Float64("edge_multiple", p.EdgeMultiple))
}

// Status возвращает снапшот состояния
func (s *Strategy) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:      s.enabled,
		State:        "idle",
		CooldownLeft: s.cooldownLeft,
		Rejections: RejectionStats{
			Counts:       make(map[string]int64, len(s.rejections)),
			LastDistance: make(map[string]float64, len(s.lastDistance)),
		},
	}
	for k, v := range s.rejections {
		st.Rejections.Counts[k] = v
	}
	for k, v := range s.lastDistance {
		st.Rejections.LastDistance[k] = v
	}
	for key := range s.excluded {
		st.Excluded = append(st.Excluded, key.String())
	}

	switch {
	case s.broker.Position() != nil:
		st.State = "position_open"
	case s.setup != nil:
		st.State = "setup_pending"
		st.Setup = &SetupInfo{
			Leader:      s.setup.leader.String(),
			Follower:    s.setup.follower.String(),
			Side:        s.setup.side,
			Correlation: s.setup.correlation,
			TTLBars:     s.setup.ttlBars,
			RiskMode:    s.setup.riskMode,
		}
	case s.cooldownLeft > 0:
		st.State = "cooldown"
	}
	return st
}

// ClearExclusions сбрасывает автоисключённые серии
func (s *Strategy) ClearExclusions() {
	s.mu.Lock()
	s.noMatch = make(map[models.SeriesKey]int)
	s.excluded = make(map[models.SeriesKey]bool)
	s.mu.Unlock()
}

// Tick - один синхронный проход торгового цикла
func (s *Strategy) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Открытая позиция управляется всегда, даже при выключенной стратегии
	if s.managePositionLocked() {
		return
	}
	if !s.enabled {
		return
	}

	stats := s.feed.Stats()
	if !stats.Running {
		return
	}

	results, at := s.analyzer.Latest()
	s.updateNoMatchLocked(results, at)

	if s.params.InterExchangeOnly && !bothSourcesLive(stats) {
		s.rejectLocked(RejectInterExchange, 0)
		return
	}

	pair, ok := s.selectPairLocked(results)
	if !ok {
		s.rejectLocked(RejectNoCandidates, 0)
		return
	}

	// Смена лучшей пары обесценивает ожидающий сетап
	if s.setup != nil && (s.setup.leader != pair.Leader || s.setup.follower != pair.Follower) {
		s.log.Debug("pending setup discarded: pair changed",
			zap.String("old", s.setup.leader.String()+"->"+s.setup.follower.String()),
			zap.String("new", pair.Leader.String()+"->"+pair.Follower.String()))
		s.setup = nil
	}

	// Детект нового бара лидера по timestamp, не по факту тика
	leaderBarTs, hasBar := s.feed.LastBarTs(pair.Leader)
	newLeaderBar := hasBar && leaderBarTs.After(s.lastLeaderBarTs)
	if newLeaderBar {
		s.lastLeaderBarTs = leaderBarTs
	}

	// Старение сетапа: по барам лидера, не по wall-clock
	if s.setup != nil && newLeaderBar {
		s.setup.ttlBars--
		if s.setup.ttlBars <= 0 {
			s.setup = nil
			s.rejectLocked(RejectSetupExpired, 0)
			return
		}
	}

	if s.cooldownLeft > 0 {
		if newLeaderBar {
			s.cooldownLeft--
		}
		return
	}

	if s.setup == nil {
		s.tryCreateSetupLocked(pair)
		return
	}
	s.tryConfirmLocked(pair)
}

// managePositionLocked ведёт открытую позицию
// Возвращает true если позиция есть (тик завершён)
func (s *Strategy) managePositionLocked() bool {
	pos := s.broker.Position()
	if pos == nil {
		return false
	}

	key := s.activeFollower
	if barTs, ok := s.feed.LastBarTs(key); ok && barTs.After(s.lastHoldBarTs) {
		s.lastHoldBarTs = barTs
		s.broker.AdvanceHold(pos.Symbol, barTs)
	}

	mid, ok := s.feed.GetMid(key)
	if !ok {
		return true
	}

	trade, err := s.broker.Update(pos.Symbol, mid)
	if err != nil {
		s.log.Warn("broker update failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		return true
	}
	if trade != nil {
		s.handleTradeLocked(trade)
	}
	return true
}

// handleTradeLocked обрабатывает закрытие (полное или частичное)
func (s *Strategy) handleTradeLocked(trade *models.Trade) {
	metricTradesExecuted.WithLabelValues(trade.Reason).Inc()

	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sink.SaveTrade(ctx, trade); err != nil {
			s.log.Warn("trade journal write failed", zap.Error(err))
		}
		cancel()
	}
	if s.broadcaster != nil {
		s.broadcaster.Emit("tradeUpdate", trade)
		s.broadcaster.Emit("notification", models.Notification{
			Type:      "CLOSE",
			Message:   "position closed: " + trade.Reason,
			Symbol:    trade.Symbol,
			Timestamp: s.nowFn(),
		})
	}

	// Полное закрытие запускает cooldown
	if s.broker.Position() == nil {
		s.cooldownLeft = s.params.CooldownBars
		s.setup = nil
		s.activeFollower = models.SeriesKey{}
		s.log.Info("trade completed",
			zap.String("symbol", trade.Symbol),
			zap.String("reason", trade.Reason),
			zap.Float64("net_pnl", trade.NetPnl),
			zap.Int("cooldown_bars", s.cooldownLeft))
	}
}

// bothSourcesLive - оба источника в рабочем состоянии
func bothSourcesLive(stats models.FeedStats) bool {
	live := 0
	for _, src := range stats.Sources {
		if src.State == "open" || src.State == "degraded" {
			live++
		}
	}
	return live >= 2
}

// selectPairLocked выбирает лучшую допустимую пару из выдачи анализа
func (s *Strategy) selectPairLocked(results []models.PairResult) (models.PairResult, bool) {
	for _, r := range results {
		if s.excluded[r.Leader] || s.excluded[r.Follower] {
			continue
		}
		if !s.sourceAllowed(r.Leader.Source) || !s.sourceAllowed(r.Follower.Source) {
			continue
		}
		if s.params.InterExchangeOnly && r.Leader.Source == r.Follower.Source {
			continue
		}
		if s.params.SameBaseOnly && r.Leader.Symbol != r.Follower.Symbol {
			continue
		}
		if !s.leaderAllowed(r.Leader) {
			continue
		}
		return r, true
	}
	return models.PairResult{}, false
}

func (s *Strategy) sourceAllowed(src models.Source) bool {
	if len(s.params.AllowedSources) == 0 {
		return true
	}
	for _, a := range s.params.AllowedSources {
		if a == src {
			return true
		}
	}
	return false
}

func (s *Strategy) leaderAllowed(leader models.SeriesKey) bool {
	if len(s.params.FixedLeaders) == 0 {
		return true
	}
	for _, f := range s.params.FixedLeaders {
		if strings.EqualFold(f, leader.String()) {
			return true
		}
	}
	return false
}

// updateNoMatchLocked ведёт счётчики серий без подтверждения
// Серия, не набравшая подтверждения NoMatchLimit проходов анализа
// подряд, исключается из отбора пар до ClearExclusions
func (s *Strategy) updateNoMatchLocked(results []models.PairResult, at time.Time) {
	if s.params.NoMatchLimit <= 0 || !at.After(s.lastResultsAt) {
		return
	}
	s.lastResultsAt = at

	confirmed := make(map[models.SeriesKey]bool)
	seen := make(map[models.SeriesKey]bool)
	for _, r := range results {
		seen[r.Leader] = true
		seen[r.Follower] = true
		if r.ConfirmScore >= 2 {
			confirmed[r.Leader] = true
			confirmed[r.Follower] = true
		}
	}

	for key := range seen {
		if confirmed[key] {
			delete(s.noMatch, key)
			continue
		}
		s.noMatch[key]++
		if s.noMatch[key] >= s.params.NoMatchLimit && !s.excluded[key] {
			s.excluded[key] = true
			s.log.Warn("series auto-excluded: no confirmation",
				zap.String("series", key.String()),
				zap.Int("misses", s.noMatch[key]))
		}
	}
}

// rejectLocked фиксирует отбраковку гейта и дистанцию до прохода
func (s *Strategy) rejectLocked(gate string, distance float64) {
	s.rejections[gate]++
	s.lastDistance[gate] = distance
	metricRejections.WithLabelValues(gate).Inc()
}

// tryCreateSetupLocked прогоняет гейты и создаёт ожидающий сетап
func (s *Strategy) tryCreateSetupLocked(pair models.PairResult) {
	returns := s.feed.GetReturns(s.params.VolWindow)
	leaderReturns := returns[pair.Leader]
	followerReturns := returns[pair.Follower]
	if len(leaderReturns) < minVolSamples || len(followerReturns) < minVolSamples {
		// Недостаток данных - не сигнал и не ошибка
		return
	}

	// Гейт корреляции
	minCorr := s.params.MinCorrelation * s.params.Strictness
	if math.Abs(pair.Correlation) < minCorr {
		s.rejectLocked(RejectCorrelation, minCorr-math.Abs(pair.Correlation))
		return
	}

	// Гейт импульса лидера
	leaderVol := utils.SampleStd(leaderReturns)
	if leaderVol <= 0 {
		return
	}
	leaderReturn := leaderReturns[len(leaderReturns)-1]
	threshold := s.params.ImpulseZ * s.params.Strictness * leaderVol

	riskMode := false
	if !s.params.DebugBypassImpulse && math.Abs(leaderReturn) < threshold {
		riskFloor := threshold * s.params.RiskImpulseFrac
		if s.params.RiskModeEnabled && math.Abs(leaderReturn) >= riskFloor {
			riskMode = true
		} else {
			s.rejectLocked(RejectImpulse, threshold-math.Abs(leaderReturn))
			return
		}
	}

	// Пороги выхода от волатильности фолловера
	followerVol := utils.SampleStd(followerReturns)
	if followerVol <= 0 {
		return
	}
	tp2R := s.params.TP2VolMult * followerVol
	tp1R := s.params.TP1Frac * tp2R
	slR := s.params.SLVolMult * followerVol

	// Edge-гейт: TP2 должен кратно перекрывать издержки оборота
	edgeFloor := s.broker.RoundTripCost() * s.params.EdgeMultiple
	if tp2R < edgeFloor {
		s.rejectLocked(RejectEdge, edgeFloor-tp2R)
		return
	}

	// Направление: знак импульса лидера через знак корреляции
	side := models.SideBuy
	if leaderReturn*pair.Correlation < 0 {
		side = models.SideSell
	}

	followerBarTs, _ := s.feed.LastBarTs(pair.Follower)
	s.setup = &pendingSetup{
		leader:            pair.Leader,
		follower:          pair.Follower,
		side:              side,
		correlation:       pair.Correlation,
		leaderReturn:      leaderReturn,
		leaderThreshold:   threshold,
		tp1R:              tp1R,
		tp2R:              tp2R,
		slR:               slR,
		edgeFloor:         edgeFloor,
		ttlBars:           s.params.SetupTTLBars,
		riskMode:          riskMode,
		createdAt:         s.nowFn(),
		lastFollowerBarTs: followerBarTs,
	}
	metricSetupsCreated.Inc()

	s.log.Info("setup created",
		zap.String("leader", pair.Leader.String()),
		zap.String("follower", pair.Follower.String()),
		zap.String("side", side),
		zap.Float64("correlation", pair.Correlation),
		zap.Float64("leader_return", leaderReturn),
		zap.Int("ttl_bars", s.setup.ttlBars),
		zap.Bool("risk_mode", riskMode))
}

// tryConfirmLocked ждёт подтверждающий бар фолловера и открывает позицию
func (s *Strategy) tryConfirmLocked(pair models.PairResult) {
	setup := s.setup

	followerBarTs, ok := s.feed.LastBarTs(setup.follower)
	if !ok || !followerBarTs.After(setup.lastFollowerBarTs) {
		// Новый бар фолловера ещё не закрыт
		return
	}
	setup.lastFollowerBarTs = followerBarTs

	returns := s.feed.GetReturns(s.params.VolWindow)
	followerReturns := returns[setup.follower]
	if len(followerReturns) < minVolSamples {
		return
	}

	followerVol := utils.SampleStd(followerReturns)
	if followerVol <= 0 {
		return
	}

	dir := 1.0
	if setup.side == models.SideSell {
		dir = -1.0
	}

	// Подтверждение: бар фолловера в сторону сетапа не слабее ConfirmZ сигм
	followerReturn := followerReturns[len(followerReturns)-1]
	need := s.params.ConfirmZ * followerVol
	aligned := followerReturn * dir
	if aligned < need {
		s.rejectLocked(RejectConfirmation, need-aligned)
		return
	}

	// Доп. фильтр: короткий тренд лидера в сторону сетапа
	if s.params.LeaderTrendBars > 0 {
		leaderReturns := returns[setup.leader]
		n := s.params.LeaderTrendBars
		if len(leaderReturns) >= n {
			trend := utils.Mean(leaderReturns[len(leaderReturns)-n:]) * dir
			if trend < s.params.LeaderTrendMin {
				s.rejectLocked(RejectConfirmation, s.params.LeaderTrendMin-trend)
				return
			}
		}
	}

	// Потолок открытий в час
	now := s.nowFn()
	s.pruneOpensLocked(now)
	if len(s.recentOpens) >= s.params.MaxTradesPerHour {
		s.rejectLocked(RejectHourlyCap, 0)
		return
	}

	mid, ok := s.feed.GetMid(setup.follower)
	if !ok {
		return
	}

	notional := s.params.Notional
	if setup.riskMode {
		notional *= s.params.RiskModeFrac
	}

	pos, err := s.broker.Open(setup.follower.Symbol, setup.side, mid, notional, broker.PositionParams{
		TP1R:        setup.tp1R,
		TP2R:        setup.tp2R,
		SLR:         setup.slR,
		MaxHoldBars: s.params.MaxHoldBars,
		Metadata: map[string]string{
			"leader":   setup.leader.String(),
			"follower": setup.follower.String(),
		},
	})
	if err != nil {
		s.log.Warn("broker open failed",
			zap.String("symbol", setup.follower.Symbol), zap.Error(err))
		s.setup = nil
		return
	}

	s.activeFollower = setup.follower
	s.lastHoldBarTs = followerBarTs
	s.recentOpens = append(s.recentOpens, now)
	s.setup = nil
	metricPositionsOpened.Inc()

	s.log.Info("position opened from setup",
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side),
		zap.Float64("entry_mid", pos.EntryMid),
		zap.Float64("notional", pos.Notional),
		zap.Float64("tp2_r", pos.TP2R))

	if s.broadcaster != nil {
		s.broadcaster.Emit("notification", models.Notification{
			Type:      "OPEN",
			Message:   "position opened: " + pos.Symbol,
			Symbol:    pos.Symbol,
			Timestamp: now,
		})
	}
}

// pruneOpensLocked выбрасывает открытия старше часа
func (s *Strategy) pruneOpensLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := s.recentOpens[:0]
	for _, t := range s.recentOpens {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recentOpens = kept
}
