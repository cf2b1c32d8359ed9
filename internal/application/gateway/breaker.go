package gateway

import (
	"sync"
	"time"
)

// BreakerState - состояние предохранителя
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig - параметры предохранителя возможности
type BreakerConfig struct {
	FailureThreshold int           // подряд идущих сбоев до размыкания
	Cooldown         time.Duration // время в open до пробного вызова
}

// Breaker изолирует одну возможность: после серии сбоев вызовы
// сразу получают отказ до истечения cooldown.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker создает предохранитель в состоянии closed
func NewBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now, state: BreakerClosed}
}

// Allow сообщает, можно ли выполнить вызов. В half-open пропускается
// ровно один пробный вызов.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Success фиксирует успешный вызов
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// Failure фиксирует сбой вызова
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if b.state == BreakerHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open()
	}
}

// Release снимает пробный вызов, прерванный вызывающим, без вердикта.
// Предохранитель возвращается в open с прежним openedAt, поэтому
// следующий вызов снова может стать пробным.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen || !b.probing {
		return
	}
	b.probing = false
	b.state = BreakerOpen
}

// State возвращает текущее состояние
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
}
