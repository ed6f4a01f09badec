package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PageLimiter paces page navigations within a scan session so consecutive
// page loads do not hammer the storefront. The pace adapts: a blocking
// interstitial halves the rate, successful pages recover it by 20% up to
// the configured base. Waiting is a pure suspension point; no pipeline
// state changes while a wait is in flight.
type PageLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	min     rate.Limit
	current rate.Limit
}

// NewPageLimiter builds a limiter that allows one navigation per interval.
func NewPageLimiter(interval time.Duration) *PageLimiter {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	base := rate.Every(interval)
	return &PageLimiter{
		limiter: rate.NewLimiter(base, 1),
		base:    base,
		min:     base / 4,
		current: base,
	}
}

// Wait blocks until the next navigation is allowed or ctx expires.
func (l *PageLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// OnBlocked halves the pace after a blocking interstitial, down to a
// quarter of the base rate.
func (l *PageLimiter) OnBlocked() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.current * 0.5
	if next < l.min {
		next = l.min
	}
	l.current = next
	l.limiter.SetLimit(next)
	zap.L().Warn("pace: slowing page navigation after block",
		zap.Float64("pages_per_second", float64(next)),
	)
}

// OnSuccess recovers the pace by 20%, capped at the base rate.
func (l *PageLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.current * 1.2
	if next > l.base {
		next = l.base
	}
	l.current = next
	l.limiter.SetLimit(next)
}

// Limit returns the current pace in pages per second.
func (l *PageLimiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
