package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket. Points endpoints are cheap writes,
// so one shared limit across the whole API is enough; there is no per-route
// tuning.
type RateLimiter struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	rate        int           // tokens per window
	window      time.Duration // refill window
	sweepTicker *time.Ticker
	stopSweep   chan struct{}
}

type bucket struct {
	mu       sync.Mutex
	tokens   int
	refilled time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per window per
// client key.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:     make(map[string]*bucket),
		rate:        rate,
		window:      window,
		sweepTicker: time.NewTicker(5 * time.Minute),
		stopSweep:   make(chan struct{}),
	}

	go rl.sweep()

	return rl
}

// sweep drops buckets idle for over an hour so the map does not grow with
// every client ever seen.
func (rl *RateLimiter) sweep() {
	for {
		select {
		case <-rl.sweepTicker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, b := range rl.buckets {
				b.mu.Lock()
				if now.Sub(b.refilled) > time.Hour {
					delete(rl.buckets, key)
				}
				b.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.stopSweep:
			return
		}
	}
}

// Stop stops the sweep goroutine.
func (rl *RateLimiter) Stop() {
	rl.sweepTicker.Stop()
	close(rl.stopSweep)
}

// Allow reports whether a request from the given client key may proceed,
// consuming a token when it does.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		b, ok = rl.buckets[key]
		if !ok {
			b = &bucket{tokens: rl.rate, refilled: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.refilled)

	if elapsed >= rl.window {
		b.tokens = rl.rate
		b.refilled = now
	} else if add := int(float64(rl.rate) * elapsed.Seconds() / rl.window.Seconds()); add > 0 {
		b.tokens = min(b.tokens+add, rl.rate)
		b.refilled = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// clientKey identifies the caller, preferring proxy-supplied headers over the
// raw remote address.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.rate))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
