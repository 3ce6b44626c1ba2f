package messaging

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool keeps one token bucket per sender.
type limiterPool struct {
	mu    sync.Mutex
	m     map[int]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{m: make(map[int]*rate.Limiter), rps: rps, burst: burst}
}

func (p *limiterPool) get(userID int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[userID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[userID] = l
	return l
}

// Allow reports whether userID may send now. A pool without a rate never limits.
func (p *limiterPool) Allow(userID int) bool {
	if p == nil || p.rps <= 0 {
		return true
	}
	return p.get(userID).Allow()
}
