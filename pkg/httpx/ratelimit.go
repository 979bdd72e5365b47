package httpx

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rideops/console/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines a token-bucket rate limit.
type RateLimitConfig struct {
	// RequestsPerWindow is the sustained number of requests allowed per Window.
	RequestsPerWindow int
	// Window is the measurement window.
	Window time.Duration
	// Burst is the number of requests allowed to arrive at once.
	Burst int
}

// StrictLimit guards credential endpoints against brute forcing.
var StrictLimit = RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}

// LenientLimit covers authenticated read endpoints.
var LenientLimit = RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100}

// KeyExtractor derives the bucket key for a request (IP, email, a mix).
type KeyExtractor func(*http.Request) string

// IPKey extracts the client IP, honouring proxy headers.
func IPKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// HeaderKey extracts a request header value, for limiting by a caller-supplied
// dimension such as the attempted account address.
func HeaderKey(name string) KeyExtractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// CompositeKey joins several extractors into one key.
func CompositeKey(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, ex := range extractors {
			if k := ex(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, ":")
	}
}

type limiterPool struct {
	limiters sync.Map // key -> *rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func (p *limiterPool) get(key string) *rate.Limiter {
	if l, ok := p.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := p.limiters.LoadOrStore(key, rate.NewLimiter(p.rate, p.burst))
	p.maybeCleanup()
	return l.(*rate.Limiter)
}

// maybeCleanup drops idle limiters so ephemeral keys don't accumulate.
// A limiter with a full bucket has not been used for at least one window.
func (p *limiterPool) maybeCleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastCleanup) < 5*time.Minute {
		return
	}
	p.lastCleanup = time.Now()

	p.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(p.burst) {
			p.limiters.Delete(key)
		}
		return true
	})
}

// RateLimit returns middleware enforcing cfg per key. Requests without an
// extractable key are allowed through with a warning rather than refused.
func RateLimit(cfg RateLimitConfig, key KeyExtractor) Middleware {
	pool := &limiterPool{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			k := key(r)
			if k == "" {
				log.Warn("rate limit: no key for request, allowing")
				next.ServeHTTP(w, r)
				return
			}

			limiter := pool.get(k)
			if !limiter.Allow() {
				res := limiter.Reserve()
				delay := res.Delay()
				res.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

				log.Warn("rate limit exceeded", "key", k, "path", r.URL.Path)
				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate_limit_exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
