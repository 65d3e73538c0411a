package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter keeps one token bucket per client IP. Idle entries are pruned
// so the map cannot grow without bound.
type ipRateLimiter struct {
	perMinute int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newIPRateLimiter(perMinute int) *ipRateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &ipRateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*clientLimiter),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.clients[ip]
	if c == nil {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute),
		}
		l.clients[ip] = c
	}
	c.lastSeen = now

	if len(l.clients) > 1024 {
		l.pruneLocked(now)
	}
	return c.limiter.Allow()
}

func (l *ipRateLimiter) pruneLocked(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, ip)
		}
	}
}
