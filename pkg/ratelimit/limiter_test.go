package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/xmarre/Copperminer/pkg/config"
)

func testLimiterConfig() config.LimiterConfig {
	return config.LimiterConfig{
		InitialDelay:   20 * time.Millisecond,
		MinDelay:       10 * time.Millisecond,
		MaxDelay:       200 * time.Millisecond,
		RampWindow:     time.Minute,
		RampThreshold:  5,
		IncreaseFactor: 0.5,
		BackoffFactor:  2.0,
		AllowRamp:      true,
	}
}

func TestAdaptiveLimiterWaitSpacing(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("second Wait returned after %v, expected at least the configured delay", elapsed)
	}
}

func TestAdaptiveLimiterBackoffOn429(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	before := l.CurrentDelay()
	l.RecordOutcome(429, 0)
	after := l.CurrentDelay()

	if after <= before {
		t.Errorf("delay did not increase on 429: before=%v after=%v", before, after)
	}
	if after != 40*time.Millisecond {
		t.Errorf("expected doubled delay 40ms, got %v", after)
	}

	// A second 429 doubles again
	l.RecordOutcome(429, 0)
	if got := l.CurrentDelay(); got != 80*time.Millisecond {
		t.Errorf("expected 80ms after second 429, got %v", got)
	}
}

func TestAdaptiveLimiterBackoffClampedToMax(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	for i := 0; i < 10; i++ {
		l.RecordOutcome(429, 0)
	}
	if got := l.CurrentDelay(); got != 200*time.Millisecond {
		t.Errorf("expected delay clamped to 200ms, got %v", got)
	}
}

func TestAdaptiveLimiterHonorsRetryAfter(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	l.RecordOutcome(429, 500*time.Millisecond)
	if got := l.CurrentDelay(); got != 500*time.Millisecond {
		t.Errorf("expected Retry-After to win, got %v", got)
	}
}

func TestAdaptiveLimiterSuccessKeepsFloorAfter429(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	l.RecordOutcome(429, 0)
	raised := l.CurrentDelay()

	// Fewer successes than the ramp threshold: the raised delay must
	// hold as the floor
	for i := 0; i < 3; i++ {
		l.RecordOutcome(200, 0)
	}
	if got := l.CurrentDelay(); got < raised {
		t.Errorf("delay dropped below the post-429 floor: %v < %v", got, raised)
	}
}

func TestAdaptiveLimiterRampsDownWhenClean(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	// A fully clean window past the threshold lets the delay ramp down,
	// but never below the minimum
	for i := 0; i < 20; i++ {
		l.RecordOutcome(200, 0)
	}
	got := l.CurrentDelay()
	if got >= 20*time.Millisecond {
		t.Errorf("delay did not ramp down after a clean window: %v", got)
	}
	if got < 10*time.Millisecond {
		t.Errorf("delay ramped below the minimum: %v", got)
	}
}

func TestAdaptiveLimiterRampDisabled(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.AllowRamp = false
	l := NewAdaptiveLimiter(cfg)

	l.RecordOutcome(429, 0)
	raised := l.CurrentDelay()

	for i := 0; i < 50; i++ {
		l.RecordOutcome(200, 0)
	}
	if got := l.CurrentDelay(); got != raised {
		t.Errorf("delay changed with ramping disabled: %v != %v", got, raised)
	}
}

func TestAdaptiveLimiterDirtyWindowBlocksRamp(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	l.RecordOutcome(429, 0)
	raised := l.CurrentDelay()

	// Successes interleaved with another 429: the window is never clean
	for i := 0; i < 4; i++ {
		l.RecordOutcome(200, 0)
	}
	l.RecordOutcome(429, 0)
	for i := 0; i < 4; i++ {
		l.RecordOutcome(200, 0)
	}
	if got := l.CurrentDelay(); got < raised {
		t.Errorf("delay ramped down despite a 429 in the window: %v < %v", got, raised)
	}
}

func TestAdaptiveLimiterReset(t *testing.T) {
	l := NewAdaptiveLimiter(testLimiterConfig())

	l.RecordOutcome(429, 0)
	l.Reset()

	if got := l.CurrentDelay(); got != 20*time.Millisecond {
		t.Errorf("expected initial delay after reset, got %v", got)
	}
}

func TestAdaptiveLimiterWaitCancellation(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.InitialDelay = 5 * time.Second
	l := NewAdaptiveLimiter(cfg)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("expected Wait to fail when the context expires")
	}
}
