package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadlag/internal/models"
	"leadlag/pkg/retry"
	"leadlag/pkg/utils"
)

// Broadcaster - получатель событий feed-слоя (WebSocket hub)
type Broadcaster interface {
	Emit(topic string, payload interface{})
}

// ManagerConfig - конфигурация Feed Manager
type ManagerConfig struct {
	// BarInterval - период нарезки баров
	BarInterval time.Duration
	// RingCapacity - глубина ring buffer на серию
	RingCapacity int
	// MaxSymbols - жёсткий потолок количества символов
	MaxSymbols int
	// RefRefreshInterval - период обновления эталонных цен через REST
	RefRefreshInterval time.Duration
	// Conn - параметры WebSocket соединений
	Conn ConnConfig
}

// DefaultManagerConfig возвращает конфигурацию по умолчанию
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BarInterval:        500 * time.Millisecond,
		RingCapacity:       2048,
		MaxSymbols:         50,
		RefRefreshInterval: 60 * time.Second,
		Conn:               DefaultConnConfig(),
	}
}

func (c *ManagerConfig) applyDefaults() {
	def := DefaultManagerConfig()
	if c.BarInterval <= 0 {
		c.BarInterval = def.BarInterval
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = def.RingCapacity
	}
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = def.MaxSymbols
	}
	if c.RefRefreshInterval <= 0 {
		c.RefRefreshInterval = def.RefRefreshInterval
	}
	c.Conn.applyDefaults()
}

// Коррекция масштаба: биржевой глюк иногда отдаёт цену, сдвинутую на
// десятичные порядки. Чиним только кратности 10/100/1000 (деление к
// эталону); обратные отношения не трогаем - слишком легко перепутать
// с настоящим обвалом цены.
var scaleFixBands = []float64{10, 100, 1000}

const scaleTolerance = 0.02

// correctScale сверяет mid с эталонной ценой ref
// Возвращает исправленную цену и признак применённой коррекции
func correctScale(mid, ref float64) (float64, bool) {
	if mid <= 0 || ref <= 0 {
		return mid, false
	}
	ratio := mid / ref
	for _, band := range scaleFixBands {
		if math.Abs(ratio-band) <= band*scaleTolerance {
			return mid / band, true
		}
	}
	return mid, false
}

// seriesState - состояние одной серии (symbol, source)
// Доступ только под Manager.mu
type seriesState struct {
	key models.SeriesKey

	bid  float64
	ask  float64
	last float64

	mid        float64 // текущий mid после коррекции масштаба
	lastBarMid float64 // mid предыдущего закрытого бара
	haveBar    bool

	ref   float64 // эталонная цена для коррекции масштаба
	refAt time.Time

	ring *Ring
}

// sourceState - агрегаты по одному источнику
type sourceState struct {
	adapter SourceAdapter
	conn    *WSConn

	mu          sync.Mutex
	mode        SubscribeMode
	messages    int64
	malformed   int64
	corrections int64
	lastMessage time.Time
}

// Manager - менеджер фидов: соединения с биржами, нормализация тиков,
// коррекция масштаба и нарезка баров лог-доходностей
//
// Все серии нарезаются одним таймером: бары разных серий с одинаковым
// timestamp сопоставимы между собой без выравнивания.
type Manager struct {
	cfg ManagerConfig
	log *utils.Logger

	mu      sync.RWMutex
	symbols []string
	series  map[models.SeriesKey]*seriesState
	sources map[models.Source]*sourceState

	broadcaster Broadcaster

	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nowFn func() time.Time
}

// NewManager создаёт Feed Manager с переданными адаптерами бирж
func NewManager(cfg ManagerConfig, adapters []SourceAdapter, broadcaster Broadcaster, log *utils.Logger) (*Manager, error) {
	if len(adapters) == 0 {
		return nil, errors.New("feed: at least one source adapter required")
	}
	cfg.applyDefaults()

	m := &Manager{
		cfg:         cfg,
		log:         log,
		series:      make(map[models.SeriesKey]*seriesState),
		sources:     make(map[models.Source]*sourceState),
		broadcaster: broadcaster,
		stopChan:    make(chan struct{}),
		nowFn:       time.Now,
	}

	for _, a := range adapters {
		src := a.Source()
		if _, dup := m.sources[src]; dup {
			return nil, fmt.Errorf("feed: duplicate adapter for source %s", src)
		}
		m.sources[src] = &sourceState{adapter: a, mode: ModePrimary}
	}
	return m, nil
}

// Start подключается к биржам и запускает нарезку баров
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("feed: manager already running")
	}
	m.running = true
	m.mu.Unlock()

	for src, st := range m.sources {
		st := st
		src := src

		conn := NewWSConn(string(src), st.adapter.URL(), m.cfg.Conn, m.log)
		conn.SetOnOpen(func() { m.resubscribe(st) })
		conn.SetOnMessage(func(raw []byte) { m.handleMessage(src, st, raw) })
		conn.SetOnDegraded(func() { m.enableFallback(st) })
		st.conn = conn
		conn.Start()
	}

	m.wg.Add(2)
	go m.barLoop()
	go m.referenceLoop()

	m.log.Info("feed manager started",
		zap.Duration("bar_interval", m.cfg.BarInterval),
		zap.Int("sources", len(m.sources)))
	return nil
}

// Stop останавливает таймеры и закрывает соединения
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	for _, st := range m.sources {
		if st.conn != nil {
			st.conn.Close()
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.log.Info("feed manager stopped")
}

// SetSymbols заменяет активный набор символов
//
// Вход нормализуется в верхний регистр с дедупликацией; сверх потолка
// MaxSymbols лишние отбрасываются с предупреждением. Серии удалённых
// символов освобождаются, подписки корректируются дельтой.
func (m *Manager) SetSymbols(symbols []string) error {
	normalized := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		normalized = append(normalized, u)
	}

	if len(normalized) > m.cfg.MaxSymbols {
		m.log.Warn("symbol list truncated",
			zap.Int("requested", len(normalized)),
			zap.Int("max", m.cfg.MaxSymbols))
		normalized = normalized[:m.cfg.MaxSymbols]
	}

	m.mu.Lock()

	current := make(map[string]struct{}, len(m.symbols))
	for _, s := range m.symbols {
		current[s] = struct{}{}
	}
	next := make(map[string]struct{}, len(normalized))
	for _, s := range normalized {
		next[s] = struct{}{}
	}

	var added, removed []string
	for _, s := range normalized {
		if _, ok := current[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range m.symbols {
		if _, ok := next[s]; !ok {
			removed = append(removed, s)
		}
	}

	// GC состояния удалённых серий
	for _, sym := range removed {
		for src := range m.sources {
			delete(m.series, models.SeriesKey{Symbol: sym, Source: src})
		}
	}
	// Инициализация новых серий
	for _, sym := range added {
		for src := range m.sources {
			key := models.SeriesKey{Symbol: sym, Source: src}
			ring, err := NewRing(m.cfg.RingCapacity)
			if err != nil {
				m.mu.Unlock()
				return fmt.Errorf("feed: init series %s: %w", key, err)
			}
			m.series[key] = &seriesState{key: key, ring: ring}
		}
	}

	m.symbols = normalized
	m.mu.Unlock()

	// Дельта-подписки на живых соединениях (best-effort)
	for _, st := range m.sources {
		if st.conn == nil || !st.conn.IsConnected() {
			continue
		}
		st.mu.Lock()
		mode := st.mode
		st.mu.Unlock()

		if len(removed) > 0 {
			if err := st.conn.Send(st.adapter.UnsubscribeMsg(removed, mode)); err != nil {
				m.log.Warn("unsubscribe failed",
					zap.String("source", string(st.adapter.Source())), zap.Error(err))
			}
		}
		if len(added) > 0 {
			if err := st.conn.Send(st.adapter.SubscribeMsg(added, mode)); err != nil {
				m.log.Warn("subscribe failed",
					zap.String("source", string(st.adapter.Source())), zap.Error(err))
			}
		}
	}

	m.log.Info("symbols updated",
		zap.Int("total", len(normalized)),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)))
	return nil
}

// Symbols возвращает копию активного набора символов
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// resubscribe выставляет полный набор подписок после (пере)подключения
func (m *Manager) resubscribe(st *sourceState) {
	m.mu.RLock()
	symbols := make([]string, len(m.symbols))
	copy(symbols, m.symbols)
	m.mu.RUnlock()

	if len(symbols) == 0 {
		return
	}

	st.mu.Lock()
	// Новое соединение начинает с primary канала
	st.mode = ModePrimary
	st.mu.Unlock()

	if err := st.conn.Send(st.adapter.SubscribeMsg(symbols, ModePrimary)); err != nil {
		m.log.Warn("resubscribe failed",
			zap.String("source", string(st.adapter.Source())), zap.Error(err))
	}
}

// enableFallback дополнительно подписывает fallback-канал на молчащем
// соединении (primary подписка остаётся)
func (m *Manager) enableFallback(st *sourceState) {
	st.mu.Lock()
	if st.mode == ModeFallback {
		st.mu.Unlock()
		return
	}
	st.mode = ModeFallback
	st.mu.Unlock()

	m.mu.RLock()
	symbols := make([]string, len(m.symbols))
	copy(symbols, m.symbols)
	m.mu.RUnlock()

	if len(symbols) == 0 {
		return
	}

	m.log.Warn("enabling fallback subscription",
		zap.String("source", string(st.adapter.Source())),
		zap.Int("symbols", len(symbols)))

	if err := st.conn.Send(st.adapter.SubscribeMsg(symbols, ModeFallback)); err != nil {
		m.log.Warn("fallback subscribe failed",
			zap.String("source", string(st.adapter.Source())), zap.Error(err))
	}
}

// handleMessage обрабатывает входящее сообщение источника
func (m *Manager) handleMessage(src models.Source, st *sourceState, raw []byte) {
	st.mu.Lock()
	st.messages++
	st.lastMessage = m.nowFn()
	st.mu.Unlock()
	metricMessages.WithLabelValues(string(src)).Inc()

	tick, err := st.adapter.Parse(raw)
	if err != nil {
		st.mu.Lock()
		st.malformed++
		st.mu.Unlock()
		metricMalformed.WithLabelValues(string(src)).Inc()

		m.log.Debug("malformed payload", zap.String("source", string(src)), zap.Error(err))
		return
	}
	if tick == nil {
		return
	}

	m.applyTick(src, st, tick)
}

// applyTick вливает нормализованный тик в состояние серии
func (m *Manager) applyTick(src models.Source, st *sourceState, tick *TickUpdate) {
	key := models.SeriesKey{Symbol: tick.Symbol, Source: src}

	m.mu.Lock()
	s, ok := m.series[key]
	if !ok {
		// Тик неподписанного символа (отписка в полёте)
		m.mu.Unlock()
		return
	}

	// Частичные обновления: нулевое поле = без изменений
	if tick.Bid > 0 {
		s.bid = tick.Bid
	}
	if tick.Ask > 0 {
		s.ask = tick.Ask
	}
	if tick.Last > 0 {
		s.last = tick.Last
	}

	var mid float64
	switch {
	case s.bid > 0 && s.ask > 0:
		mid = (s.bid + s.ask) / 2
	case s.last > 0:
		mid = s.last
	case tick.Mark > 0:
		mid = tick.Mark
	default:
		m.mu.Unlock()
		return
	}

	corrected, fixed := correctScale(mid, s.ref)
	if fixed {
		st.mu.Lock()
		st.corrections++
		st.mu.Unlock()
		metricCorrections.WithLabelValues(string(src)).Inc()

		m.log.Warn("scale glitch corrected",
			zap.String("series", key.String()),
			zap.Float64("raw_mid", mid),
			zap.Float64("corrected", corrected),
			zap.Float64("reference", s.ref))
	}
	s.mid = corrected
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.Emit("priceUpdate", map[string]interface{}{
			"symbol": key.Symbol,
			"source": key.Source,
			"mid":    corrected,
		})
	}
}

// barLoop нарезает бары по общему таймеру
func (m *Manager) barLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.BarInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cutBars()
		}
	}
}

// cutBars закрывает бар по всем сериям с известным mid
func (m *Manager) cutBars() {
	ts := m.nowFn().Truncate(m.cfg.BarInterval)

	var emitted []models.Bar

	m.mu.Lock()
	for _, s := range m.series {
		if s.mid <= 0 {
			continue
		}

		// Первый бар серии: доходность 0
		ret := 0.0
		if s.haveBar {
			ret = utils.LogReturn(s.mid, s.lastBarMid)
		}

		bar := models.Bar{
			Ts:     ts,
			Symbol: s.key.Symbol,
			Source: s.key.Source,
			Mid:    s.mid,
			Return: ret,
		}
		s.ring.Push(bar)
		s.lastBarMid = s.mid
		s.haveBar = true
		emitted = append(emitted, bar)
	}
	m.mu.Unlock()

	if len(emitted) > 0 {
		metricBars.Add(float64(len(emitted)))
		if m.broadcaster != nil {
			m.broadcaster.Emit("barUpdate", emitted)
		}
	}
}

// referenceLoop периодически освежает эталонные цены
func (m *Manager) referenceLoop() {
	defer m.wg.Done()

	// Первое обновление почти сразу: без эталона коррекция масштаба
	// не работает
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-timer.C:
			m.refreshReferences()
			timer.Reset(m.cfg.RefRefreshInterval)
		}
	}
}

// refreshReferences запрашивает эталонные цены всех серий через REST
func (m *Manager) refreshReferences() {
	m.mu.RLock()
	keys := make([]models.SeriesKey, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefRefreshInterval/2)
	defer cancel()

	for _, key := range keys {
		st, ok := m.sources[key.Source]
		if !ok {
			continue
		}

		price, err := retry.DoWithResult(ctx, func() (float64, error) {
			return st.adapter.FetchReference(ctx, key.Symbol)
		}, retry.NetworkConfig())
		if err != nil {
			m.log.Debug("reference fetch failed",
				zap.String("series", key.String()), zap.Error(err))
			continue
		}

		m.mu.Lock()
		if s, ok := m.series[key]; ok {
			s.ref = price
			s.refAt = m.nowFn()
		}
		m.mu.Unlock()
	}
}

// GetBars возвращает последние n баров серии (хронологически)
func (m *Manager) GetBars(key models.SeriesKey, n int) []models.Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[key]
	if !ok {
		return nil
	}
	return s.ring.Tail(n)
}

// GetMid возвращает текущий mid серии
func (m *Manager) GetMid(key models.SeriesKey) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[key]
	if !ok || s.mid <= 0 {
		return 0, false
	}
	return s.mid, true
}

// GetReturns возвращает последние n лог-доходностей по всем сериям
// (вход для лаг-анализа)
func (m *Manager) GetReturns(n int) map[models.SeriesKey][]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.SeriesKey][]float64, len(m.series))
	for key, s := range m.series {
		bars := s.ring.Tail(n)
		if len(bars) == 0 {
			continue
		}
		returns := make([]float64, len(bars))
		for i, b := range bars {
			returns[i] = b.Return
		}
		out[key] = returns
	}
	return out
}

// LastBarTs возвращает timestamp последнего бара серии
func (m *Manager) LastBarTs(key models.SeriesKey) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[key]
	if !ok {
		return time.Time{}, false
	}
	bar, ok := s.ring.Last()
	if !ok {
		return time.Time{}, false
	}
	return bar.Ts, true
}

// BarInterval возвращает период нарезки баров
func (m *Manager) BarInterval() time.Duration {
	return m.cfg.BarInterval
}

// Stats возвращает снапшот состояния feed-слоя
func (m *Manager) Stats() models.FeedStats {
	m.mu.RLock()
	stats := models.FeedStats{
		Running: m.running,
		Symbols: make([]string, len(m.symbols)),
		Series:  len(m.series),
	}
	copy(stats.Symbols, m.symbols)
	m.mu.RUnlock()

	for src, st := range m.sources {
		st.mu.Lock()
		ss := models.SourceStats{
			Source:       src,
			Messages:     st.messages,
			Malformed:    st.malformed,
			Corrections:  st.corrections,
			LastMessage:  st.lastMessage,
			FallbackMode: st.mode == ModeFallback,
			Subscribed:   len(stats.Symbols),
		}
		st.mu.Unlock()

		if st.conn != nil {
			ss.State = st.conn.State().String()
			ss.Reconnects = st.conn.Reconnects()
		} else {
			ss.State = StateDisconnected.String()
		}
		stats.Sources = append(stats.Sources, ss)
	}
	return stats
}
