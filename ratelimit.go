package loom

import (
	"sync"
	"time"
)

// rateLimiter is a token-bucket limiter wired in as a per-route Decorator.
type rateLimiter struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	quit           chan struct{}
}

// newRateLimiter starts the background refill goroutine immediately.
func newRateLimiter(maxTokens int, refillInterval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		quit:           make(chan struct{}),
	}
	go rl.refill()
	return rl
}

func (rl *rateLimiter) refill() {
	ticker := time.NewTicker(rl.refillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			rl.tokens = rl.maxTokens
			rl.mu.Unlock()
		case <-rl.quit:
			return
		}
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// stop halts the refill goroutine; call when the limiter is no longer
// referenced by any route.
func (rl *rateLimiter) stop() {
	close(rl.quit)
}

// RateLimitDecorator returns a Decorator that rejects requests with 429
// once the bucket is empty, refilling maxTokens every refillInterval.
// It is applied per route via WithDecorator, so a builder can rate-limit
// some routes and not others.
func RateLimitDecorator[S any](maxTokens int, refillInterval time.Duration) Decorator[S] {
	rl := newRateLimiter(maxTokens, refillInterval)
	return func(next HttpHandler[S]) HttpHandler[S] {
		return func(rf *ReadFiber, req *HttpRequest, w *ResponseWriter, session S) {
			if !rl.allow() {
				w.Status(429)
				w.WriteString("429 too many requests")
				return
			}
			next(rf, req, w, session)
		}
	}
}
