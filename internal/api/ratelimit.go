package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quillchat/quill/internal/log"
)

const (
	rateLimiterSweepInterval  = 5 * time.Minute
	rateLimiterStaleThreshold = 10 * time.Minute
)

// rateLimiter throttles requests per client IP. Each IP owns a token bucket
// (golang.org/x/time/rate); buckets idle past the stale threshold are swept
// inline during allow calls, so there is no background goroutine to manage.
type rateLimiter struct {
	mu        sync.Mutex
	callers   map[string]*caller
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type caller struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with the
// given burst capacity per IP.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		callers:   make(map[string]*caller),
		limit:     rate.Limit(r),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow consumes one token from the IP's bucket, creating the bucket on
// first contact.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if now.Sub(rl.lastSweep) > rateLimiterSweepInterval {
		for k, c := range rl.callers {
			if now.Sub(c.lastSeen) > rateLimiterStaleThreshold {
				delete(rl.callers, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.callers[ip]
	if !ok {
		bucket := rate.NewLimiter(rl.limit, rl.burst)
		rl.callers[ip] = &caller{bucket: bucket, lastSeen: now}
		bucket.Allow()
		return true
	}

	c.lastSeen = now
	return c.bucket.Allow()
}

// rateLimitMiddleware rejects requests from IPs that have drained their
// bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address a request is limited under.
//
// Proxy headers (X-Real-IP, then the first X-Forwarded-For hop) are
// consulted only when trustProxy is set, and only if they parse as IPs —
// an arbitrary header value must not become a limiter key. Otherwise the
// peer address wins.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
