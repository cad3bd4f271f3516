package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// sweepInterval is how often idle client buckets are reclaimed.
	sweepInterval = 5 * time.Minute
	// idleAfter is how long a bucket may sit untouched before reclaim.
	idleAfter = time.Hour
)

// RateLimiter applies a per-client token bucket. Clients are keyed by IP;
// tokens refill continuously over the configured window.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	sweep   *time.Ticker
	done    chan struct{}
}

type bucket struct {
	mu       sync.Mutex
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter allows rate requests per window per client.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		sweep:   time.NewTicker(sweepInterval),
		done:    make(chan struct{}),
	}
	go rl.sweepIdle()
	return rl
}

func (rl *RateLimiter) sweepIdle() {
	for {
		select {
		case <-rl.sweep.C:
			now := time.Now()
			rl.mu.Lock()
			for key, b := range rl.buckets {
				b.mu.Lock()
				if now.Sub(b.lastSeen) > idleAfter {
					delete(rl.buckets, key)
				}
				b.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.sweep.Stop()
	close(rl.done)
}

// Allow consumes one token for the client, reporting whether any remained.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		b, ok = rl.buckets[key]
		if !ok {
			b = &bucket{tokens: rl.rate, lastSeen: time.Now()}
			rl.buckets[key] = b
		}
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastSeen)

	if elapsed >= rl.window {
		b.tokens = rl.rate
		b.lastSeen = now
	} else if refill := int(float64(rl.rate) * elapsed.Seconds() / rl.window.Seconds()); refill > 0 {
		b.tokens = min(b.tokens+refill, rl.rate)
		b.lastSeen = now
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

// clientKey identifies the caller: first forwarded IP when behind a proxy,
// otherwise the connection's remote address.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects over-limit requests with 429.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	limit := strconv.Itoa(limiter.rate)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
