package leadlag

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"leadlag/internal/models"
	"leadlag/pkg/utils"
)

// ReturnsProvider - источник лог-доходностей для анализа (Feed Manager)
type ReturnsProvider interface {
	GetReturns(n int) map[models.SeriesKey][]float64
}

// Broadcaster - получатель результатов анализа
type Broadcaster interface {
	Emit(topic string, payload interface{})
}

// Service - периодический лаг-анализ поверх Feed Manager
//
// Считает Compute по расписанию, кэширует последнюю выдачу и
// рассылает её подписчикам
type Service struct {
	provider    ReturnsProvider
	broadcaster Broadcaster
	log         *utils.Logger

	mu       sync.RWMutex
	params   Params
	latest   []models.PairResult
	latestAt time.Time

	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService создаёт сервис лаг-анализа
// interval - период пересчёта (0 → 5s)
func NewService(provider ReturnsProvider, broadcaster Broadcaster, params Params, interval time.Duration, log *utils.Logger) *Service {
	params.applyDefaults()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Service{
		provider:    provider,
		broadcaster: broadcaster,
		log:         log,
		params:      params,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start запускает периодический пересчёт
func (s *Service) Start() {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("leadlag service started", zap.Duration("interval", s.interval))
}

// Stop останавливает пересчёт
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.log.Info("leadlag service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.ComputeNow()
		}
	}
}

// ComputeNow выполняет немедленный пересчёт и возвращает результаты
func (s *Service) ComputeNow() []models.PairResult {
	s.mu.RLock()
	params := s.params
	s.mu.RUnlock()

	started := time.Now()
	series := s.provider.GetReturns(params.Window)
	results := Compute(series, params)

	metricComputeDuration.Observe(time.Since(started).Seconds())
	metricPairsAnalyzed.Set(float64(len(results)))

	s.mu.Lock()
	s.latest = results
	s.latestAt = time.Now()
	s.mu.Unlock()

	if len(results) > 0 {
		s.log.Debug("leadlag computed",
			zap.Int("pairs", len(results)),
			zap.Int("series", len(series)),
			zap.Duration("took", time.Since(started)))
	}

	if s.broadcaster != nil && len(results) > 0 {
		s.broadcaster.Emit("leadlagUpdate", results)
	}
	return results
}

// Latest возвращает последнюю выдачу анализа и её время
func (s *Service) Latest() ([]models.PairResult, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PairResult, len(s.latest))
	copy(out, s.latest)
	return out, s.latestAt
}

// Params возвращает текущие параметры анализа
func (s *Service) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams заменяет параметры анализа (вступают в силу со следующего
// пересчёта)
func (s *Service) SetParams(p Params) {
	p.applyDefaults()
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	s.log.Info("leadlag params updated",
		zap.Int("max_lag", p.MaxLag),
		zap.Int("window", p.Window))
}
