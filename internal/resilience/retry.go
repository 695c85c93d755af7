package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/metrics"
)

// BackoffMode selects how per-attempt delays grow.
type BackoffMode string

// Supported backoff modes.
const (
	BackoffExponential BackoffMode = "exponential"
	BackoffLinear      BackoffMode = "linear"
)

// RetryConfig is the static retry policy for one class of operation.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Mode         BackoffMode
	Jitter       bool
}

// DefaultRetryConfig returns a policy suited to origin flakiness.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Mode:         BackoffExponential,
		Jitter:       true,
	}
}

// Strategy wraps operations with bounded, classified retries. When a
// Breaker is attached it must grant permission before every attempt and
// receives every attempt outcome, except business outcomes which say
// nothing about upstream health. A Strategy is stateless across calls and
// safe for concurrent use.
type Strategy struct {
	cfg     RetryConfig
	breaker *Breaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewStrategy builds a Strategy. breaker may be nil; exactly one strategy
// per physical call should carry the breaker so a single root failure is
// not double-counted by nested retry layers.
func NewStrategy(cfg RetryConfig, breaker *Breaker, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Mode == "" {
		cfg.Mode = BackoffExponential
	}
	return &Strategy{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Execute runs fn under the retry policy. It returns fn's error unchanged
// for terminal outcomes, ErrCircuitOpen when denied, and an ExhaustedError
// wrapping the last retriable error once attempts run out.
func (s *Strategy) Execute(ctx context.Context, opName string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.breaker != nil && !s.breaker.Allow() {
			return ErrCircuitOpen
		}

		err := fn(ctx)
		s.report(err)

		if err == nil {
			if attempt > 1 {
				s.logger.Info("operation recovered",
					zap.String("operation", opName),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if !Retriable(err) {
			return err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := s.Delay(attempt)
		metrics.ObserveRetry(opName, delay)
		s.logger.Debug("retrying after backoff",
			zap.String("operation", opName),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	s.logger.Warn("retries exhausted",
		zap.String("operation", opName),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return &ExhaustedError{Attempts: s.cfg.MaxAttempts, Err: lastErr}
}

// Delay computes the backoff before the attempt following the given one:
// min(maxDelay, initial*multiplier^(attempt-1)) for exponential mode, the
// initial delay for linear mode, optionally perturbed by ±20% jitter to
// desynchronize parallel workers.
func (s *Strategy) Delay(attempt int) time.Duration {
	d := float64(s.cfg.InitialDelay)
	if s.cfg.Mode == BackoffExponential {
		d *= math.Pow(s.cfg.Multiplier, float64(attempt-1))
	}
	if s.cfg.MaxDelay > 0 && d > float64(s.cfg.MaxDelay) {
		d = float64(s.cfg.MaxDelay)
	}
	if s.cfg.Jitter {
		d *= 0.8 + rand.Float64()*0.4
	}
	return time.Duration(d)
}

func (s *Strategy) report(err error) {
	if s.breaker == nil {
		return
	}
	if err == nil {
		s.breaker.RecordSuccess()
		return
	}
	if CountsAgainstBreaker(err) {
		s.breaker.RecordFailure()
		return
	}
	// Terminal protocol errors mean the upstream answered; expected
	// business outcomes are not recorded at all.
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		s.breaker.RecordSuccess()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
