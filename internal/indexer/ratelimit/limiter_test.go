package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := NewLimiter(cfg, zerolog.Nop())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_BackoffAfterThreshold(t *testing.T) {
	l, _ := newTestLimiter(Config{FailureThreshold: 3, Backoff: time.Minute, MaxBackoff: time.Hour})

	l.RecordFailure(false)
	l.RecordFailure(false)
	if l.ShouldSkip() {
		t.Fatal("ShouldSkip() = true before threshold")
	}

	l.RecordFailure(false)
	if !l.ShouldSkip() {
		t.Fatal("ShouldSkip() = false after threshold")
	}
}

func TestLimiter_RateLimitedStartsBackoffImmediately(t *testing.T) {
	l, _ := newTestLimiter(Config{FailureThreshold: 5, Backoff: time.Minute})

	l.RecordFailure(true)
	if !l.ShouldSkip() {
		t.Error("ShouldSkip() = false after rate limited response")
	}
}

func TestLimiter_BackoffExpiresAndDoubles(t *testing.T) {
	l, now := newTestLimiter(Config{FailureThreshold: 1, Backoff: time.Minute, MaxBackoff: 3 * time.Minute})

	l.RecordFailure(false)
	*now = now.Add(61 * time.Second)
	if l.ShouldSkip() {
		t.Fatal("ShouldSkip() = true after backoff window")
	}

	l.RecordFailure(false)
	if got := l.Status().BackoffUntil.Sub(*now); got != 2*time.Minute {
		t.Errorf("second window = %v, want 2m", got)
	}

	l.RecordFailure(false)
	if got := l.Status().BackoffUntil.Sub(*now); got != 3*time.Minute {
		t.Errorf("capped window = %v, want 3m", got)
	}
}

func TestLimiter_SuccessClearsStreak(t *testing.T) {
	l, _ := newTestLimiter(Config{FailureThreshold: 1, Backoff: time.Minute})

	l.RecordFailure(false)
	l.RecordSuccess()
	if l.ShouldSkip() {
		t.Error("ShouldSkip() = true after success")
	}
	if s := l.Status(); s.Failures != 0 {
		t.Errorf("Failures = %d, want 0", s.Failures)
	}
}

func TestLimiter_WaitUnlimited(t *testing.T) {
	l := NewLimiter(Config{}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
}
