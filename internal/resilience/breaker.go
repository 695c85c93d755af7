package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/metrics"
)

// BreakerState enumerates the circuit breaker states.
type BreakerState int

// Breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxAttempts int
}

// DefaultBreakerConfig returns thresholds suited to the origin's tolerance.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// Breaker tracks consecutive failures against one upstream dependency and
// gates new attempts once the threshold is exceeded. One instance may be
// shared by many operations (and many workers) targeting the same
// upstream; all state transitions are serialized by the mutex.
type Breaker struct {
	cfg    BreakerConfig
	logger *zap.Logger
	clock  func() time.Time

	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastFailure      time.Time
	halfOpenSuccess  int
	halfOpenAttempts int
}

// NewBreaker builds a Breaker in the CLOSED state.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 3
	}
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		clock:  time.Now,
	}
}

// Allow reports whether a call may proceed. In OPEN, once the recovery
// timeout has elapsed since the last failure, exactly one caller observes
// the transition to HALF_OPEN and is admitted as a trial; in HALF_OPEN
// only up to HalfOpenMaxAttempts trials are admitted.
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			metrics.ObserveBreakerDenial()
			return false
		}
		b.transition(StateHalfOpen)
		b.halfOpenSuccess = 0
		b.halfOpenAttempts = 1
		return true
	case StateHalfOpen:
		if b.halfOpenAttempts >= b.cfg.HalfOpenMaxAttempts {
			metrics.ObserveBreakerDenial()
			return false
		}
		b.halfOpenAttempts++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In CLOSED the failure count
// decays by one rather than resetting, so a slow burn of interleaved
// failures still trips the breaker. In HALF_OPEN enough successes close
// the circuit.
func (b *Breaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxAttempts {
			b.transition(StateClosed)
			b.failureCount = 0
			b.halfOpenSuccess = 0
			b.halfOpenAttempts = 0
		}
	}
}

// RecordFailure reports a failed call. At the threshold CLOSED trips to
// OPEN; any failure in HALF_OPEN reverts to OPEN and resets the trial
// counter.
func (b *Breaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.lastFailure = b.clock()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.lastFailure = b.clock()
		b.halfOpenSuccess = 0
		b.halfOpenAttempts = 0
		b.transition(StateOpen)
	case StateOpen:
		b.lastFailure = b.clock()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	b.logger.Warn("circuit breaker state change",
		zap.String("from", b.state.String()),
		zap.String("to", next.String()),
		zap.Int("failure_count", b.failureCount),
	)
	metrics.ObserveBreakerTransition(next.String())
	b.state = next
}
