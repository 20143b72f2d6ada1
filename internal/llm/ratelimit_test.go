package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterTryAcquire(t *testing.T) {
	rl := newRateLimiter(5)
	defer rl.Close()

	for i := 0; i < 5; i++ {
		require.True(t, rl.tryAcquire(), "token %d should be available", i+1)
	}
	assert.False(t, rl.tryAcquire(), "bucket should be empty after capacity acquisitions")
}

func TestRateLimiterDefaultsToSixtyPerMinute(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.Close()

	for i := 0; i < 50; i++ {
		require.True(t, rl.tryAcquire())
	}
}

func TestRateLimiterWaitBlocksUntilRefill(t *testing.T) {
	// High refill rate so the blocked wait resolves quickly.
	rl := newRateLimiter(600)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 600; i++ {
		require.True(t, rl.tryAcquire())
	}

	start := time.Now()
	require.NoError(t, rl.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"wait should have blocked until a token refilled")
}

func TestRateLimiterWaitHonorsCancellation(t *testing.T) {
	rl := newRateLimiter(1)
	defer rl.Close()

	require.NoError(t, rl.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiterConcurrentAcquisition(t *testing.T) {
	rl := newRateLimiter(100)
	defer rl.Close()

	var (
		mu       sync.Mutex
		acquired int
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if rl.tryAcquire() {
					mu.Lock()
					acquired++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// 100 tokens for 100 attempts: every attempt gets one.
	assert.Equal(t, 100, acquired)
}
