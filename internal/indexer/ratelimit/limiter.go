// Package ratelimit throttles provider requests and tracks failure backoff.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config defines rate limit configuration.
type Config struct {
	// RequestsPerSecond is the steady request rate; 0 disables throttling.
	RequestsPerSecond float64
	// Burst is the number of requests allowed without waiting.
	Burst int
	// FailureThreshold is the number of consecutive failures that starts a backoff.
	FailureThreshold int
	// Backoff is the first backoff window. It doubles on every failure while
	// backing off, up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 1,
		Burst:             2,
		FailureThreshold:  3,
		Backoff:           time.Minute,
		MaxBackoff:        30 * time.Minute,
	}
}

// Limiter guards the requests of one provider.
type Limiter struct {
	logger  zerolog.Logger
	config  Config
	limiter *rate.Limiter
	now     func() time.Time

	mu           sync.Mutex
	failures     int
	window       time.Duration
	backoffUntil time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.MaxBackoff < config.Backoff {
		config.MaxBackoff = config.Backoff
	}
	return &Limiter{
		logger:  logger.With().Str("component", "rate-limiter").Logger(),
		config:  config,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Wait blocks until a request is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// ShouldSkip reports whether the provider is backing off.
func (l *Limiter) ShouldSkip() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.backoffUntil)
}

// RecordSuccess clears the failure streak.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failures > 0 || l.window > 0 {
		l.logger.Debug().Int("failures", l.failures).Msg("Failure streak cleared")
	}
	l.failures = 0
	l.window = 0
	l.backoffUntil = time.Time{}
}

// RecordFailure counts a failed request. A rate limited response starts the
// backoff at once; other failures start it after FailureThreshold in a row.
func (l *Limiter) RecordFailure(rateLimited bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures++
	if !rateLimited && l.failures < l.config.FailureThreshold {
		return
	}

	switch {
	case l.window == 0:
		l.window = l.config.Backoff
	default:
		l.window *= 2
	}
	if l.window > l.config.MaxBackoff {
		l.window = l.config.MaxBackoff
	}
	l.backoffUntil = l.now().Add(l.window)

	l.logger.Warn().
		Int("failures", l.failures).
		Bool("rateLimited", rateLimited).
		Dur("backoff", l.window).
		Msg("Backing off provider requests")
}

// Status is a snapshot of the limiter state.
type Status struct {
	Failures     int       `json:"failures"`
	BackoffUntil time.Time `json:"backoffUntil,omitempty"`
	Skipping     bool      `json:"skipping"`
}

// Status returns the current limiter state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Failures:     l.failures,
		BackoffUntil: l.backoffUntil,
		Skipping:     l.now().Before(l.backoffUntil),
	}
}

// Reset clears the failure streak and backoff.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures = 0
	l.window = 0
	l.backoffUntil = time.Time{}
	l.logger.Info().Msg("Rate limiter reset")
}
