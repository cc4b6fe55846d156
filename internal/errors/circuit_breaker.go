package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartsched/internal/logging"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is where a breaker sits in its closed, open, half-open cycle.
type CircuitState int

const (
	// StateClosed lets every call through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets calls through until they settle the outcome.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig is the breaker section of the calendar config.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures trip a closed breaker.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// SuccessThreshold half-open successes close it again.
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	// Timeout is the cool-down spent open before calls are let through.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// OnStateChange runs with the breaker locked and must not call back
	// into it.
	OnStateChange func(from, to CircuitState, name string) `yaml:"-" mapstructure:"-"`
	Clock         func() time.Time                         `yaml:"-" mapstructure:"-"`
}

// DefaultCircuitBreakerConfig trips after five failures and cools down for
// thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a dependency that keeps failing and lets
// calls through again once its cool-down has passed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker returns a closed breaker. Non-positive thresholds fall
// back to the defaults.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		now:    now,
		state:  StateClosed,
	}
}

// Execute calls fn unless the breaker is open and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteFunc is Execute for calls that return a value.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	waited := cb.now().Sub(cb.openedAt)
	if waited < cb.config.Timeout {
		return fmt.Errorf("%w for %s, retry in %v", ErrCircuitOpen, cb.name, cb.config.Timeout-waited)
	}
	cb.transition(StateHalfOpen, fmt.Sprintf("cool-down of %v elapsed", cb.config.Timeout))
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A cancelled call is the caller giving up, not the dependency failing.
	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		cb.succeeded()
		return
	}
	cb.failed()
}

func (cb *CircuitBreaker) succeeded() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, fmt.Sprintf("%d calls succeeded", cb.successes))
		}
	}
}

func (cb *CircuitBreaker) failed() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case StateHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(StateOpen, "call failed while half-open")
	}
}

// transition moves to state to and clears the counters. cb.mu must be held.
func (cb *CircuitBreaker) transition(to CircuitState, reason string) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if from == to {
		return
	}
	if to == StateOpen {
		cb.logger.Warn("%s breaker %s -> %s: %s", cb.name, from, to, reason)
	} else {
		cb.logger.Info("%s breaker %s -> %s: %s", cb.name, from, to, reason)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to, cb.name)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and forgets its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, "manual reset")
}
