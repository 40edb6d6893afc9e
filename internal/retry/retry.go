// Package retry wraps external expert invocations with classified retries,
// exponential backoff with jitter, and bounded timeouts.
package retry

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ErrorKind classifies a failed operation for retry decisions.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindAuth      ErrorKind = "auth"
	KindClient    ErrorKind = "client_4xx"
	KindServer    ErrorKind = "server_5xx"
	KindUnknown   ErrorKind = "unknown"
)

// Retryable reports whether the kind is worth another attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		return true
	default:
		return false
	}
}

// ClassifiedError carries the classification alongside the original error.
// Operations may return one directly; otherwise Classify derives the kind
// from the error text.
type ClassifiedError struct {
	Kind ErrorKind

	// RetryAfter is an optional server-suggested delay (rate limiting).
	RetryAfter time.Duration

	Err error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify maps an arbitrary error onto the taxonomy. Already-classified
// errors pass through; context errors map to timeout/unknown; everything
// else is matched against stderr/transport patterns.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: KindUnknown, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "429", "quota exceeded", "overloaded"):
		return &ClassifiedError{Kind: KindRateLimit, Err: err}
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return &ClassifiedError{Kind: KindTimeout, Err: err}
	case containsAny(msg, "unauthorized", "401", "403", "forbidden", "invalid api key", "authentication"):
		return &ClassifiedError{Kind: KindAuth, Err: err}
	case containsAny(msg, "connection refused", "connection reset", "no such host", "broken pipe", "network", "econnrefused", "unreachable", "eof"):
		return &ClassifiedError{Kind: KindNetwork, Err: err}
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"):
		return &ClassifiedError{Kind: KindServer, Err: err}
	case containsAny(msg, "400", "404", "422", "bad request", "not found", "invalid request"):
		return &ClassifiedError{Kind: KindClient, Err: err}
	default:
		return &ClassifiedError{Kind: KindUnknown, Err: err}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Policy controls retry behaviour for one class of operation.
type Policy struct {
	MaxRetries        int           // additional attempts after the first
	InitialDelay      time.Duration // nominal delay before the first retry
	MaxDelay          time.Duration // cap on the nominal delay
	BackoffMultiplier float64
	JitterFraction    float64       // total jitter width relative to the delay
	PerAttemptTimeout time.Duration // 0 = no per-attempt timeout
}

// DefaultPolicy matches the documented defaults: 3 retries, 1s initial delay
// doubling up to 30s, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		JitterFraction:    0.1,
	}
}

// Attempt records one classified attempt for diagnostics.
type Attempt struct {
	Number   int           `json:"number"`
	Kind     ErrorKind     `json:"kind,omitempty"`
	Err      string        `json:"error,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ExhaustedError is returned when every attempt failed. It carries the full
// classified history; LastKind is the classification of the final attempt.
type ExhaustedError struct {
	Attempts []Attempt
	LastKind ErrorKind
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (last: %s): %v",
		len(e.Attempts), e.LastKind, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Stats holds cumulative controller counters. Snapshots are copied under the
// controller lock; readers see consistent values.
type Stats struct {
	Attempts      int64               `json:"attempts"`
	Successes     int64               `json:"successes"`
	Failures      int64               `json:"failures"`
	Retries       int64               `json:"retries"`
	RetriesByKind map[ErrorKind]int64 `json:"retries_by_kind"`
}

// AvgRetriesPerSuccess reports the mean retries spent on each success.
func (s Stats) AvgRetriesPerSuccess() float64 {
	if s.Successes == 0 {
		return 0
	}
	return float64(s.Retries) / float64(s.Successes)
}

// Event describes a controller state change passed to the observer.
type Event struct {
	Type    string    // "attempt", "retry", "success", "failure"
	Attempt int
	Kind    ErrorKind
	Delay   time.Duration
}

// Controller executes operations under a retry policy and accumulates stats.
// It is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	stats    Stats
	observer func(Event)

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController builds a controller. observer may be nil.
func NewController(observer func(Event)) *Controller {
	return &Controller{
		observer: observer,
		stats:    Stats{RetriesByKind: make(map[ErrorKind]int64)},
		sleep:    sleepCtx,
	}
}

// Stats returns a snapshot of the cumulative counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.stats
	snap.RetriesByKind = make(map[ErrorKind]int64, len(c.stats.RetriesByKind))
	for k, v := range c.stats.RetriesByKind {
		snap.RetriesByKind[k] = v
	}
	return snap
}

// Execute runs op until it succeeds, a non-retriable error occurs, the policy
// is exhausted, or ctx is done. The returned error on exhaustion is an
// *ExhaustedError wrapping the last failure.
func Execute[T any](ctx context.Context, c *Controller, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var history []Attempt

	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		c.emit(Event{Type: "attempt", Attempt: attempt})
		c.count(func(s *Stats) { s.Attempts++ })

		attemptCtx := ctx
		var cancel context.CancelFunc
		if policy.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.PerAttemptTimeout)
		}

		start := time.Now()
		result, err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(start)

		if err == nil {
			c.emit(Event{Type: "success", Attempt: attempt})
			c.count(func(s *Stats) { s.Successes++ })
			return result, nil
		}

		// A per-attempt timeout must not surface the parent's cancellation.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		ce := Classify(err)
		history = append(history, Attempt{
			Number:   attempt,
			Kind:     ce.Kind,
			Err:      err.Error(),
			Duration: elapsed,
		})

		if !ce.Kind.Retryable() || attempt == maxAttempts {
			c.emit(Event{Type: "failure", Attempt: attempt, Kind: ce.Kind})
			c.count(func(s *Stats) { s.Failures++ })
			return zero, &ExhaustedError{Attempts: history, LastKind: ce.Kind, Err: err}
		}

		delay := Backoff(policy, attempt)
		// Honour a server-suggested delay when rate limited.
		if ce.Kind == KindRateLimit && ce.RetryAfter > delay {
			delay = ce.RetryAfter
		}
		history[len(history)-1].Delay = delay

		c.emit(Event{Type: "retry", Attempt: attempt, Kind: ce.Kind, Delay: delay})
		c.count(func(s *Stats) {
			s.Retries++
			s.RetriesByKind[ce.Kind]++
		})

		if err := c.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	// Unreachable: the loop always returns.
	return zero, errors.New("retry: invariant violated")
}

// Backoff computes the jittered delay before retrying after the given
// attempt number (1-based). The nominal delay is
// min(maxDelay, initial*multiplier^(attempt-1)); uniform jitter of total
// width jitterFraction*delay is added and the result clamped at zero.
func Backoff(policy Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	nominal := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))
	if max := float64(policy.MaxDelay); policy.MaxDelay > 0 && nominal > max {
		nominal = max
	}

	// Uniform jitter in [-jitterFraction/2, +jitterFraction/2] of the nominal
	// delay, drawn from crypto/rand so independent clients do not retry in
	// lockstep.
	jitter := nominal * policy.JitterFraction * (cryptoRandFloat64() - 0.5)
	d := time.Duration(nominal + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// cryptoRandFloat64 returns a cryptographically sourced float64 in [0, 1).
func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// Should never happen; fall back to the midpoint (no jitter).
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) emit(e Event) {
	if c.observer != nil {
		c.observer(e)
	}
}

func (c *Controller) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
