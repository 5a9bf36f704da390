package embedding

import (
	"sync"
	"time"
)

// breaker opens after failureLimit consecutive provider failures and
// short-circuits calls until the cooldown expires. State resets only on
// a successful call or cooldown expiry.
type breaker struct {
	mu           sync.Mutex
	failureLimit int
	cooldown     time.Duration

	consecutive int
	openUntil   time.Time
}

func newBreaker(failureLimit int, cooldown time.Duration) *breaker {
	return &breaker{failureLimit: failureLimit, cooldown: cooldown}
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	// Cooldown expired: half-open, let the next call probe.
	b.openUntil = time.Time{}
	b.consecutive = 0
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.openUntil = time.Time{}
}

func (b *breaker) failure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.failureLimit {
		b.openUntil = now.Add(b.cooldown)
	}
}
