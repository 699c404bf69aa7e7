package provider

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a token bucket per candidate ID. A nil *Limiter allows
// everything.
type Limiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

// NewLimiter returns a limiter allowing perMinute calls per candidate, or nil
// when perMinute is not positive.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit: rate.Limit(float64(perMinute) / 60),
		burst: burst,
		byKey: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one call to key may proceed at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	lim, ok := l.byKey[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byKey[key] = lim
	}
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}
