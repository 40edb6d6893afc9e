package worker

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate bounds the total number of concurrent expert invocations across the
// process and optionally rate limits their start. Waiting for a slot happens
// before any per-attempt timeout starts, so queued invocations do not time
// out against their own budget.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate builds a gate admitting maxConcurrent invocations (default CPU
// count * 2) at no more than perSecond starts per second (0 disables rate
// limiting).
func NewGate(maxConcurrent int64, perSecond float64) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = int64(runtime.NumCPU() * 2)
	}
	g := &Gate{sem: semaphore.NewWeighted(maxConcurrent)}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return g
}

// Acquire blocks until a slot is free (and the rate limiter admits a start)
// or ctx is done. Callers must Release exactly once per successful Acquire.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.sem.Release(1)
			return err
		}
	}
	return nil
}

// Release frees a slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Gated wraps a Worker so every invocation passes through the gate.
type Gated struct {
	Worker Worker
	Gate   *Gate
}

// Invoke implements Worker.
func (g *Gated) Invoke(ctx context.Context, inv Invocation) (string, error) {
	if err := g.Gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer g.Gate.Release()
	return g.Worker.Invoke(ctx, inv)
}
