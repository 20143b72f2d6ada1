package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// refillTick is how often the bucket accrues fractional tokens. A fixed
// small tick keeps low request rates from stalling a whole minute between
// tokens.
const refillTick = 100 * time.Millisecond

// rateLimiter is a token bucket, one per provider client. Capacity and
// refill rate are both the configured requests per minute.
type rateLimiter struct {
	done     chan struct{}
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perTick  float64
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}

	capacity := float64(requestsPerMinute)
	rl := &rateLimiter{
		done:     make(chan struct{}),
		tokens:   capacity,
		capacity: capacity,
		perTick:  capacity * refillTick.Minutes(),
	}
	go rl.run()
	return rl
}

// wait blocks until a token is available or the context ends.
func (rl *rateLimiter) wait(ctx context.Context) error {
	ticker := time.NewTicker(refillTick)
	defer ticker.Stop()

	for {
		if rl.tryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// tryAcquire takes a token if one is available.
func (rl *rateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

func (rl *rateLimiter) run() {
	ticker := time.NewTicker(refillTick)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			rl.tokens += rl.perTick
			if rl.tokens > rl.capacity {
				rl.tokens = rl.capacity
			}
			rl.mu.Unlock()
		}
	}
}

// Close stops the refill goroutine.
func (rl *rateLimiter) Close() {
	close(rl.done)
}
