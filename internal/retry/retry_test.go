package retry

import (
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func alwaysRetry(error) bool { return true }

func classify(err error) bool { return errors.Is(err, errTransient) }

func newNoSleep(policy Policy, retryable Classifier) *Executor {
	e := New(policy, retryable)
	e.SetSleep(func(time.Duration) {})
	return e
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 3}, alwaysRetry)

	calls := 0
	failed := false
	e.Do(func() error {
		calls++
		return nil
	}, func(error) { failed = true })

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if failed {
		t.Error("onFail must not run after a success")
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 3}, classify)

	calls := 0
	failed := false
	e.Do(func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(error) { failed = true })

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if failed {
		t.Error("onFail must not run when a retry eventually succeeds")
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 3}, classify)

	calls := 0
	var lastErr error
	e.Do(func() error {
		calls++
		return errTransient
	}, func(err error) { lastErr = err })

	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
	if !errors.Is(lastErr, errTransient) {
		t.Errorf("onFail received %v, want %v", lastErr, errTransient)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 5}, classify)

	calls := 0
	var lastErr error
	e.Do(func() error {
		calls++
		return errPermanent
	}, func(err error) { lastErr = err })

	if calls != 1 {
		t.Errorf("permanent error should stop after 1 attempt, got %d", calls)
	}
	if !errors.Is(lastErr, errPermanent) {
		t.Errorf("onFail received %v, want %v", lastErr, errPermanent)
	}
}

func TestDo_ZeroAttemptsMeansOne(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 0}, alwaysRetry)

	calls := 0
	e.Do(func() error {
		calls++
		return errTransient
	}, nil)

	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestDo_NilOnFail(t *testing.T) {
	e := newNoSleep(Policy{MaxAttempts: 1}, alwaysRetry)
	// Must not panic.
	e.Do(func() error { return errTransient }, nil)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	policy := Policy{
		MaxAttempts: 6,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  80 * time.Millisecond,
	}
	e := New(policy, alwaysRetry)

	var sleeps []time.Duration
	e.SetSleep(func(d time.Duration) { sleeps = append(sleeps, d) })

	e.Do(func() error { return errTransient }, func(error) {})

	if len(sleeps) != 5 {
		t.Fatalf("expected 5 backoff sleeps, got %d", len(sleeps))
	}
	for i, d := range sleeps {
		if d <= 0 {
			t.Errorf("sleep %d = %v, want positive", i, d)
		}
		if d > policy.BackoffCap {
			t.Errorf("sleep %d = %v exceeds cap %v", i, d, policy.BackoffCap)
		}
	}
	// By the fifth attempt the exponential term alone is past the cap.
	if sleeps[4] != policy.BackoffCap {
		t.Errorf("late sleep = %v, want capped at %v", sleeps[4], policy.BackoffCap)
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	e := New(Policy{MaxAttempts: 3}, alwaysRetry)

	var sleeps []time.Duration
	e.SetSleep(func(d time.Duration) { sleeps = append(sleeps, d) })

	e.Do(func() error { return errTransient }, func(error) {})

	for _, d := range sleeps {
		if d != 0 {
			t.Errorf("zero base should yield zero backoff, got %v", d)
		}
	}
}
