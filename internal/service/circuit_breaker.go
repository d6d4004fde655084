package service

import (
	"context"
	"sync"
	"time"

	"msgflow/internal/constants"
	"msgflow/internal/errors"

	"github.com/sirupsen/logrus"
)

// CircuitBreakerState is the breaker position.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

// CircuitBreaker guards provider calls. After maxFailures consecutive
// failures it opens and rejects calls with a retryable error until the
// timeout elapses, then lets a limited number of probes through before
// closing again.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	timeout     time.Duration
	probeQuota  uint32

	mu          sync.Mutex
	state       CircuitBreakerState
	consecutive uint32
	openedAt    time.Time
	probes      uint32
	successes   uint32
	requests    uint32

	logger *logrus.Logger
}

func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		probeQuota:  constants.CBHalfOpenMaxCalls,
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open. A rejected call returns a
// retryable error so the dispatcher schedules the message for retry
// instead of burning an attempt.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return errors.WrapRetryable(nil, errors.ErrCodeSendTransient, "circuit breaker is open").
			WithContext(LogFieldService, cb.name).
			WithUserMessage("Provider is temporarily unavailable")
	}

	err := fn(ctx)
	cb.observe(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) <= cb.timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probes = 0
		return true
	case StateHalfOpen:
		return cb.probes < cb.probeQuota
	}
	return false
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++

	if err != nil {
		cb.consecutive++
		cb.openedAt = time.Now()
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.consecutive >= cb.maxFailures) {
			cb.transition(StateOpen)
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.consecutive = 0
	case StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.probeQuota {
			cb.consecutive = 0
			cb.transition(StateClosed)
		}
	}
}

// transition flips the state and logs it. Callers hold cb.mu.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	cb.logger.WithFields(logrus.Fields{
		LogFieldService: cb.name,
		"from":          from.String(),
		"to":            to.String(),
		"failures":      cb.consecutive,
	}).Warn("Circuit breaker state change")
}

func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats reports breaker counters for the health endpoint.
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":      cb.name,
		"state":     cb.state.String(),
		"failures":  cb.consecutive,
		"successes": cb.successes,
		"requests":  cb.requests,
	}
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutive = 0
	cb.probes = 0
	cb.successes = 0
	cb.requests = 0

	cb.logger.WithField(LogFieldService, cb.name).Info("Circuit breaker reset")
}
