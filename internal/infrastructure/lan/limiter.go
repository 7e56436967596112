package lan

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// replyLimiter keeps one token bucket per source IP.
type replyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newReplyLimiter(r rate.Limit, burst int) *replyLimiter {
	return &replyLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		idle:     time.Minute,
	}
}

func (l *replyLimiter) allow(from net.Addr, now time.Time) bool {
	key := sourceIP(from)

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops buckets of sources not seen for a while.
func (l *replyLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
}

func sourceIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
