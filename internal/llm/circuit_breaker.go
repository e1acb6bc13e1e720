package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// requests without calling the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures that trips the circuit.
	// Default: 3
	MaxFailures uint32

	// Timeout is how long the circuit stays open before going half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// required to close the circuit again.
	// Default: 2
	HalfOpenMaxSuccesses uint32
}

// CircuitBreakerMetrics holds counters about circuit breaker operations.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker wraps gobreaker so that a failing text-generation provider
// is short-circuited instead of stalling every resolution with a timeout.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	config  CircuitBreakerConfig
	mu      sync.Mutex
	metrics CircuitBreakerMetrics
}

// NewCircuitBreaker creates a breaker with the defaults (3 failures, 30s open,
// 2 half-open successes).
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:                 name,
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewCircuitBreakerWithConfig creates a breaker with a custom configuration.
func NewCircuitBreakerWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "llm"
	}
	cb := &CircuitBreaker{config: config}

	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return cb
}

// Execute runs fn through the circuit breaker. An open circuit returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		cb.record(false)
		return "", err
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})

	cb.record(err == nil)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}
	return result.(string), nil
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counts := cb.breaker.Counts()
	m := cb.metrics
	m.ConsecutiveSuccesses = counts.ConsecutiveSuccesses
	m.ConsecutiveFailures = counts.ConsecutiveFailures
	return m
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.TotalRequests++
	if success {
		cb.metrics.TotalSuccesses++
	} else {
		cb.metrics.TotalFailures++
	}
}
