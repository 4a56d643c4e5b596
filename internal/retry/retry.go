// Package retry implements a bounded retry driver with exponential backoff
// and a pluggable transient/permanent error classifier.
package retry

import (
	"math/rand/v2"
	"time"
)

// Policy configures one executor. It is stateless and shared by value
// across all call sites.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Executor drives an operation to completion within the attempt budget.
// For every call to Do, exactly one of {operation succeeds, onFail is
// invoked} happens — never both, never neither.
type Executor struct {
	policy    Policy
	retryable Classifier
	sleep     func(time.Duration)
}

func New(policy Policy, retryable Classifier) *Executor {
	return &Executor{
		policy:    policy,
		retryable: retryable,
		sleep:     time.Sleep,
	}
}

// SetSleep overrides the backoff sleep for testing.
func (e *Executor) SetSleep(f func(time.Duration)) {
	e.sleep = f
}

// Do invokes op until it returns nil, the attempt budget is exhausted, or
// the classifier reports the error as permanent. Terminal failure invokes
// onFail exactly once with the last error.
func (e *Executor) Do(op func() error, onFail func(error)) {
	attempts := e.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return
		}
		if attempt >= attempts || !e.retryable(err) {
			if onFail != nil {
				onFail(err)
			}
			return
		}
		e.sleep(e.backoff(attempt))
	}
}

// backoff returns min(2^attempt * base + jitter, cap). Jitter is uniform
// over [0, base).
func (e *Executor) backoff(attempt int) time.Duration {
	base := e.policy.BackoffBase
	if base <= 0 {
		return 0
	}

	delay := base << uint(attempt)
	if delay <= 0 { // shift overflow
		return e.policy.BackoffCap
	}
	delay += rand.N(base)
	if e.policy.BackoffCap > 0 && delay > e.policy.BackoffCap {
		delay = e.policy.BackoffCap
	}
	return delay
}
