package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("creates limiter with specified rate and burst", func(t *testing.T) {
		rl := NewRateLimiter(10, 5)

		require.NotNil(t, rl)
		require.NotNil(t, rl.limiter)

		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow(), "should allow request %d within burst", i+1)
		}
		assert.False(t, rl.Allow(), "request beyond burst should be denied")
	})

	t.Run("creates limiter with fractional rate", func(t *testing.T) {
		// 0.5 requests per second (1 request every 2 seconds)
		rl := NewRateLimiter(0.5, 1)

		require.NotNil(t, rl)
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("burst allows instant requests", func(t *testing.T) {
		rl := NewRateLimiter(100, 5)

		ctx := context.Background()
		start := time.Now()

		for i := 0; i < 5; i++ {
			err := rl.Wait(ctx)
			require.NoError(t, err)
		}

		elapsed := time.Since(start)
		assert.Less(t, elapsed, 50*time.Millisecond,
			"burst requests should be nearly instant, took %v", elapsed)
	})

	t.Run("waits for token after burst exhausted", func(t *testing.T) {
		// 10 requests per second = 100ms between requests
		rl := NewRateLimiter(10, 1)

		ctx := context.Background()

		err := rl.Wait(ctx)
		require.NoError(t, err)

		start := time.Now()
		err = rl.Wait(ctx)
		require.NoError(t, err)
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond,
			"should wait for token, waited only %v", elapsed)
	})

	t.Run("respects context deadline", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		// rate.Limiter.Wait reports "would exceed context deadline" rather
		// than context.DeadlineExceeded when it detects the deadline upfront.
		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline")
	})

	t.Run("returns immediately with canceled context", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("returns error when context canceled during wait", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := rl.Wait(ctx)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, elapsed, 500*time.Millisecond)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("denies requests beyond burst", func(t *testing.T) {
		rl := NewRateLimiter(10, 2)

		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow(), "third request should be denied")
	})

	t.Run("allows requests after token replenishment", func(t *testing.T) {
		// 100 requests per second = 10ms per token
		rl := NewRateLimiter(100, 1)

		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())

		time.Sleep(15 * time.Millisecond)

		assert.True(t, rl.Allow(), "should allow after token replenished")
	})
}

func TestRateLimiter_Tokens(t *testing.T) {
	t.Run("returns current token count", func(t *testing.T) {
		rl := NewRateLimiter(10, 5)

		tokens := rl.Tokens()
		assert.InDelta(t, 5.0, tokens, 0.1, "should start with approximately 5 tokens")

		rl.Allow()
		rl.Allow()

		tokens = rl.Tokens()
		assert.InDelta(t, 3.0, tokens, 0.1, "should have approximately 3 tokens left")
	})
}

func TestRateLimiter_Concurrency(t *testing.T) {
	t.Run("is safe for concurrent use", func(t *testing.T) {
		rl := NewRateLimiter(1000, 100)
		ctx := context.Background()

		var wg sync.WaitGroup
		errChan := make(chan error, 100)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if err := rl.Wait(ctx); err != nil {
						errChan <- err
						return
					}
				}
			}()
		}

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					rl.Allow()
				}
			}()
		}

		wg.Wait()
		close(errChan)

		for err := range errChan {
			t.Errorf("unexpected error during concurrent access: %v", err)
		}
	})
}
