package ratelimit

import (
	"context"
	"sync"
	"time"
)

// limiter.go - токен-бакет rate limiter
//
// Назначение:
// Ограничение частоты исходящих REST запросов (опрос референсных цен).
// Биржи банят за превышение лимитов, поэтому все периодические
// HTTP-опросы проходят через limiter.
//
// Алгоритм token bucket:
// - Бакет вмещает burst токенов
// - Токены пополняются со скоростью rate в секунду
// - Запрос забирает один токен или ждёт пополнения

// RateLimiter - потокобезопасный token bucket
type RateLimiter struct {
	mu     sync.Mutex
	rate   float64 // токенов в секунду
	burst  float64 // ёмкость бакета
	tokens float64
	last   time.Time
}

// NewRateLimiter создаёт limiter с заданной скоростью и ёмкостью
//
// Бакет начинается полным, первые burst запросов проходят без ожидания.
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rate:   rate,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
	}
}

// refill пополняет токены по прошедшему времени
// ВАЖНО: вызывается под mu
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.last).Seconds()
	rl.last = now

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
}

// Allow забирает токен без ожидания
//
// Возвращает false если токенов нет - вызывающий пропускает операцию.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait блокируется пока токен не станет доступен или контекст не отменится
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		// Время до появления следующего токена
		need := (1 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(need * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens возвращает текущее количество токенов (для диагностики)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Rate возвращает скорость пополнения
func (rl *RateLimiter) Rate() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.rate
}
