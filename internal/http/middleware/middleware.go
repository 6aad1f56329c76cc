// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dommoco/whatsapp-concierge/pkg/logging"
)

// RequestLogger emits structured start/finish logs for every HTTP request.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			next.ServeHTTP(w, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// WebhookThrottle caps request rate per source IP with a token bucket. Meta
// retries aggressively when deliveries fail, and a misbehaving sender must
// not starve the LLM budget.
type WebhookThrottle struct {
	mu     sync.Mutex
	seen   map[string]*tokenBucket
	rate   float64
	burst  float64
	now    func() time.Time
	sweep  time.Duration
	lastGC time.Time
}

type tokenBucket struct {
	tokens float64
	at     time.Time
}

// NewWebhookThrottle allows rate requests/second with the given burst per IP.
func NewWebhookThrottle(rate float64, burst int) *WebhookThrottle {
	return &WebhookThrottle{
		seen:  make(map[string]*tokenBucket),
		rate:  rate,
		burst: float64(burst),
		now:   time.Now,
		sweep: 10 * time.Minute,
	}
}

// Allow reports whether a request from ip fits the budget.
func (t *WebhookThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.gcLocked(now)

	b, ok := t.seen[ip]
	if !ok {
		b = &tokenBucket{tokens: t.burst, at: now}
		t.seen[ip] = b
	}
	b.tokens += now.Sub(b.at).Seconds() * t.rate
	if b.tokens > t.burst {
		b.tokens = t.burst
	}
	b.at = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// gcLocked drops buckets idle for longer than the sweep interval. Runs inline
// instead of on a timer so the throttle needs no goroutine.
func (t *WebhookThrottle) gcLocked(now time.Time) {
	if now.Sub(t.lastGC) < t.sweep {
		return
	}
	for ip, b := range t.seen {
		if now.Sub(b.at) > t.sweep {
			delete(t.seen, ip)
		}
	}
	t.lastGC = now
}

// Handler wraps next, answering 429 when the source IP is over budget.
func (t *WebhookThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if xri := r.Header.Get("X-Real-Ip"); xri != "" {
			ip = xri
		}
		if !t.Allow(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
