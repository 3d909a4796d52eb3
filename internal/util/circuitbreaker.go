package util

import (
	"sync"

	"go.uber.org/zap"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	CircuitStateClosed CircuitState = "CLOSED"
	CircuitStateOpen   CircuitState = "OPEN"
)

// String implements Stringer interface
func (s CircuitState) String() string {
	return string(s)
}

// CircuitBreaker stops a loop after a run of consecutive failures. It is owned
// by a single stage invocation and never shared between runs, so once it opens
// it stays open.
type CircuitBreaker struct {
	name             string
	state            CircuitState
	consecutive      int
	totalFailures    int
	failureThreshold int
	lastErr          error
	logger           *zap.Logger
	mu               sync.Mutex
}

// NewCircuitBreaker creates a closed breaker that opens after failureThreshold
// consecutive failures.
func NewCircuitBreaker(name string, failureThreshold int, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		state:            CircuitStateClosed,
		failureThreshold: failureThreshold,
		logger:           OrNop(logger),
	}
}

// CanExecute reports whether another call may be issued.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state != CircuitStateOpen
}

// RecordSuccess resets the consecutive failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateClosed && cb.consecutive > 0 {
		cb.logger.Debug("Circuit Breaker: Resetting failure count",
			zap.String("breaker", cb.name),
			zap.Int("was", cb.consecutive),
		)
	}
	cb.consecutive = 0
}

// RecordFailure counts a failure and reports whether the breaker is now open.
func (cb *CircuitBreaker) RecordFailure(err error) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutive++
	cb.totalFailures++
	cb.lastErr = err

	cb.logger.Warn("Circuit Breaker: Failure recorded",
		zap.String("breaker", cb.name),
		zap.Int("count", cb.consecutive),
		zap.Int("threshold", cb.failureThreshold),
		zap.Error(err),
	)

	if cb.state == CircuitStateClosed && cb.consecutive >= cb.failureThreshold {
		cb.logger.Error("Circuit Breaker: Threshold reached, OPENING circuit",
			zap.String("breaker", cb.name),
			zap.Int("threshold", cb.failureThreshold),
		)
		cb.state = CircuitStateOpen
	}
	return cb.state == CircuitStateOpen
}

// Remaining returns how many more consecutive failures the breaker absorbs
// before it opens. It is zero once open.
func (cb *CircuitBreaker) Remaining() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitStateOpen {
		return 0
	}
	return cb.failureThreshold - cb.consecutive
}

// GetStatus returns the current status
func (cb *CircuitBreaker) GetStatus() CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStatus{
		State:              cb.state,
		ConsecutiveFailure: cb.consecutive,
		TotalFailures:      cb.totalFailures,
		LastError:          cb.lastErr,
	}
}

// CircuitBreakerStatus represents the circuit breaker status
type CircuitBreakerStatus struct {
	State              CircuitState
	ConsecutiveFailure int
	TotalFailures      int
	LastError          error
}
