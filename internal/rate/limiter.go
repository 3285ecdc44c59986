package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound Gmail calls so the agent stays under API quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Nop is a limiter that never waits, used when rate limiting is disabled.
type Nop struct{}

func (Nop) Wait(context.Context) error { return nil }

// TokenBucket implements a simple fixed-rate token bucket limiter.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
}

// NewTokenBucket returns a limiter that releases rps tokens per second.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, rps),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

// run refills until Stop. Stopping the ticker alone does not close its
// channel, so the stop channel is what actually ends the goroutine.
func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter and waits for the refill
// goroutine to exit. Both binaries call this on every exit path.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
	<-t.stopDone
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Nop{}
)
