// Package poll drives the agent: run a cycle, survive whatever it throws,
// sleep a jittered interval, repeat until the process is stopped.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"
)

// Default sleep bounds between cycles.
const (
	DefaultMinSleep = 45 * time.Second
	DefaultMaxSleep = 120 * time.Second
)

// Runner executes one fetch-decide-respond cycle.
type Runner interface {
	Cycle(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Cycle implements Runner.
func (f RunnerFunc) Cycle(ctx context.Context) error { return f(ctx) }

// Loop supervises repeated cycles. A failing or panicking cycle is logged
// and the loop sleeps and goes again; nothing a cycle does terminates the
// process. Context cancellation is the only exit.
type Loop struct {
	Runner   Runner
	Logger   *slog.Logger
	MinSleep time.Duration // inclusive lower jitter bound
	MaxSleep time.Duration // inclusive upper jitter bound
	Rand     *rand.Rand
}

// New constructs a Loop with the default sleep bounds and a time-seeded
// random source.
func New(runner Runner, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	seed := uint64(time.Now().UnixNano())
	return &Loop{
		Runner:   runner,
		Logger:   logger,
		MinSleep: DefaultMinSleep,
		MaxSleep: DefaultMaxSleep,
		Rand:     rand.New(rand.NewPCG(seed, seed)),
	}
}

// Run loops until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.Logger.ErrorContext(ctx, "cycle failed", "error", err)
		}

		sleep := l.jitter()
		l.Logger.InfoContext(ctx, "sleeping until next cycle", "duration", sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// safeCycle is the per-iteration failure boundary: a panic inside a cycle
// becomes an ordinary error instead of taking the process down.
func (l *Loop) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return l.Runner.Cycle(ctx)
}

// jitter draws a fresh sleep duration from the closed interval
// [MinSleep, MaxSleep]. Re-drawn every iteration so the polling cadence
// never settles into a fixed rhythm.
func (l *Loop) jitter() time.Duration {
	minSleep, maxSleep := l.MinSleep, l.MaxSleep
	if minSleep <= 0 {
		minSleep = DefaultMinSleep
	}
	if maxSleep < minSleep {
		maxSleep = minSleep
	}
	if maxSleep == minSleep {
		return minSleep
	}
	return minSleep + time.Duration(l.Rand.Int64N(int64(maxSleep-minSleep)+1))
}
