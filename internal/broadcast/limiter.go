package broadcast

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UpgradeLimiter bounds the rate of WebSocket handshakes per client IP with a token bucket.
type UpgradeLimiter struct {
	mu       sync.Mutex
	limiters map[string]*upgradeBucket
	rate     rate.Limit
	burst    int
}

type upgradeBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUpgradeLimiter allows perSecond handshakes per IP with bursts of burst.
// A non-positive perSecond disables limiting and returns nil.
func NewUpgradeLimiter(perSecond float64, burst int) *UpgradeLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &UpgradeLimiter{
		limiters: make(map[string]*upgradeBucket),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow takes one token of ip's bucket at now. A nil limiter allows everything.
func (l *UpgradeLimiter) Allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.limiters[ip]
	if !ok {
		b = &upgradeBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Purge forgets IPs not seen for ttl and returns how many were dropped.
func (l *UpgradeLimiter) Purge(now time.Time, ttl time.Duration) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for ip, b := range l.limiters {
		if now.Sub(b.lastSeen) > ttl {
			delete(l.limiters, ip)
			purged++
		}
	}
	return purged
}

// Tracked is the number of IPs with a live bucket.
func (l *UpgradeLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
