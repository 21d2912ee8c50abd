package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request
// without calling the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all requests to pass through normally.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all requests immediately until the cooldown expires.
	StateOpen

	// StateHalfOpen admits a single probe request to test recovery.
	StateHalfOpen
)

// String returns the lowercase state name used in logs and metric labels.
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

// CircuitBreakerMetrics enables observability for circuit breaker behavior.
type CircuitBreakerMetrics interface {
	// RecordState updates the current circuit breaker state metric.
	RecordState(state CircuitBreakerState)

	// RecordTrip increments the counter of requests rejected while open.
	RecordTrip()

	// RecordSuccess increments the successful request counter.
	RecordSuccess()

	// RecordFailure increments the failed request counter.
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive provider failures and
// stays open for the cooldown. The lock is never held across the provider
// call, so concurrent batch jobs are not serialised by the breaker.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	openedAt         time.Time
	probeInFlight    bool
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the specified configuration.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open, or
// half-open with a probe already running, it returns ErrCircuitOpen.
func (cb *CircuitBreaker) Call(fn func() error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldownDuration {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.probeInFlight {
			return false, ErrCircuitOpen
		}
		cb.probeInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	// A caller cancelling says nothing about provider health.
	if errors.Is(err, context.Canceled) {
		if probe {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
		return
	}

	if err == nil {
		cb.failureCount = 0
		cb.state = StateClosed
		return
	}

	cb.failureCount++
	if probe || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakedLLM fails fast while the provider is unhealthy.
type circuitBreakedLLM struct {
	next    CoreLLM
	cb      *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware creates middleware that implements the circuit
// breaker pattern.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics creates circuit breaker middleware that
// reports state changes to metrics.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreLLM) CoreLLM {
		return &circuitBreakedLLM{
			next:    next,
			cb:      cb,
			metrics: metrics,
		}
	}
}

// DoRequest executes the request through the circuit breaker.
func (c *circuitBreakedLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	var resp *ports.CompletionResponse

	err := c.cb.Call(func() error {
		var err error
		resp, err = c.next.DoRequest(ctx, req)
		return err
	})

	if c.metrics != nil {
		switch {
		case err == nil:
			c.metrics.RecordSuccess()
		case errors.Is(err, ErrCircuitOpen):
			c.metrics.RecordTrip()
		default:
			c.metrics.RecordFailure()
		}
		c.metrics.RecordState(c.cb.GetState())
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetModel returns the model name from the wrapped implementation.
func (c *circuitBreakedLLM) GetModel() string { return c.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (c *circuitBreakedLLM) SetModel(m string) { c.next.SetModel(m) }
