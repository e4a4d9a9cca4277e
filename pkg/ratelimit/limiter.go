package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xmarre/Copperminer/pkg/config"
)

// Limiter defines the interface for adaptive request pacing
type Limiter interface {
	// Wait blocks until the current delay has elapsed since the last
	// permitted request
	Wait(ctx context.Context) error
	// RecordOutcome feeds the HTTP status of a completed request back
	// into the delay controller. retryAfter carries a Retry-After hint
	// when the server supplied one, zero otherwise.
	RecordOutcome(status int, retryAfter time.Duration)
	// Reset restores the limiter to its initial state
	Reset()
}

type outcome struct {
	at     time.Time
	status int
}

// AdaptiveLimiter is a predictive delay controller. It backs off
// multiplicatively on HTTP 429 and remembers that delay as a floor
// (predictedSafeDelay) which survives later successes, so the limiter
// does not oscillate between backing off and immediately speeding up
// again. The delay only ramps down once a trailing window holds enough
// consecutive non-429 outcomes.
type AdaptiveLimiter struct {
	initialDelay   time.Duration
	minDelay       time.Duration
	maxDelay       time.Duration
	rampWindow     time.Duration
	rampThreshold  int
	increaseFactor float64
	backoffFactor  float64
	allowRamp      bool

	mu                 sync.Mutex
	delay              time.Duration
	lastRequest        time.Time
	history            []outcome // bounded ring, oldest first
	last429            time.Time
	predictedSafeDelay time.Duration
}

const historyLimit = 1000

// NewAdaptiveLimiter creates a limiter from the given tunables
func NewAdaptiveLimiter(cfg config.LimiterConfig) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		initialDelay:       cfg.InitialDelay,
		minDelay:           cfg.MinDelay,
		maxDelay:           cfg.MaxDelay,
		rampWindow:         cfg.RampWindow,
		rampThreshold:      cfg.RampThreshold,
		increaseFactor:     cfg.IncreaseFactor,
		backoffFactor:      cfg.BackoffFactor,
		allowRamp:          cfg.AllowRamp,
		delay:              cfg.InitialDelay,
		predictedSafeDelay: cfg.InitialDelay,
	}
}

// Wait blocks until at least the current delay has elapsed since the
// last permitted request. This is the single serialization point for
// the limiter's resource class.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	wait := l.delay - time.Since(l.lastRequest)
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.mu.Lock()
	l.lastRequest = time.Now()
	l.mu.Unlock()
	return nil
}

// RecordOutcome adjusts the delay based on the request outcome
func (l *AdaptiveLimiter) RecordOutcome(status int, retryAfter time.Duration) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, outcome{at: now, status: status})
	if len(l.history) > historyLimit {
		l.history = l.history[len(l.history)-historyLimit:]
	}

	if status == 429 {
		l.last429 = now
		l.delay = clamp(time.Duration(float64(l.delay)*l.backoffFactor), l.initialDelay, l.maxDelay)
		if retryAfter > l.delay {
			l.delay = retryAfter
		}
		l.predictedSafeDelay = l.delay
		return
	}

	windowStart := now.Add(-l.rampWindow)
	recent := 0
	clean := true
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].at.Before(windowStart) {
			break
		}
		recent++
		if l.history[i].status == 429 {
			clean = false
		}
	}

	if l.allowRamp && clean && recent > l.rampThreshold {
		l.delay = time.Duration(float64(l.delay) * l.increaseFactor)
		if l.delay < l.minDelay {
			l.delay = l.minDelay
		}
		l.predictedSafeDelay = l.delay
	} else if l.delay < l.predictedSafeDelay {
		// Still in probation after a rate-limit hit
		l.delay = l.predictedSafeDelay
	}
}

// Reset restores the limiter to its initial state
func (l *AdaptiveLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = l.initialDelay
	l.history = nil
	l.last429 = time.Time{}
	l.predictedSafeDelay = l.initialDelay
}

// CurrentDelay returns the delay the next Wait call will enforce
func (l *AdaptiveLimiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
