package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nadmax/tickler/internal/apperr"
	"github.com/nadmax/tickler/internal/httputil"
	"github.com/nadmax/tickler/internal/metrics"
	"github.com/nadmax/tickler/internal/session"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WriteLimiter throttles state-changing requests per session, or per client
// address when no session is presented. Reads are never limited.
type WriteLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewWriteLimiter returns nil when perSecond is not positive; a nil
// limiter's Middleware passes requests through.
func NewWriteLimiter(perSecond float64, burst int) *WriteLimiter {
	if perSecond <= 0 {
		return nil
	}

	return &WriteLimiter{
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *WriteLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		l.sweep(now)
	}

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// sweep drops entries idle for longer than limiterIdleTTL. Callers hold mu.
func (l *WriteLimiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

func clientKey(r *http.Request) string {
	if id := session.IDFromRequest(r); id != "" {
		return "session:" + id
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}

	return "addr:" + host
}

func (l *WriteLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !l.allow(clientKey(r)) {
			metrics.RecordRateLimited(normalizeEndpoint(r.URL.Path))
			w.Header().Set("Retry-After", "1")
			httputil.WriteJSONError(w, apperr.RateLimited, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
