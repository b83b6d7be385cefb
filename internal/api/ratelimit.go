package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client address.
type ClientRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	rate    rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

func NewClientRateLimiter(perSecond float64, burst int, idle time.Duration) *ClientRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ClientRateLimiter{
		clients: make(map[string]*limiterEntry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

// Allow reports whether client may make a request now. Idle entries are evicted lazily.
func (l *ClientRateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.clients[client]
	if !ok {
		l.evict(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *ClientRateLimiter) evict(now time.Time) {
	if l.idle <= 0 {
		return
	}
	for client, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.clients, client)
		}
	}
}

// Middleware rejects requests over the client's budget with 429.
func (l *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientAddress(r)) {
			w.Header().Set("Retry-After", "1")
			writeErrorCode(w, domain.CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
