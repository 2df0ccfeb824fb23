package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"virtmcp/internal/api"
	"virtmcp/pkg/logging"
)

// DefaultSignatures are stderr fragments VirtualBox emits for conditions that
// clear on their own: a session lock held by another client, or VBoxSVC still
// coming up.
var DefaultSignatures = []string{
	"is already locked",
	"object is locked for a session",
	"session is busy",
	"vbox_e_invalid_object_state",
	"e_accessdenied",
	"daemon temporarily unavailable",
	"failed to create the virtualbox object",
	"vboxsvc",
}

// RetryPolicy describes which failures are retried and how often.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Signatures      []string
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Signatures:      DefaultSignatures,
	}
}

// Retryable reports whether err is an ExecutionError whose stderr matches one
// of the policy's signatures. Timeouts and every other error are final.
func (p RetryPolicy) Retryable(err error) bool {
	var execErr *api.ExecutionError
	if !errors.As(err, &execErr) {
		return false
	}
	stderr := strings.ToLower(execErr.Stderr)
	for _, sig := range p.Signatures {
		if sig != "" && strings.Contains(stderr, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// RetryingRunner wraps a Runner and re-runs commands that fail with a
// whitelisted transient signature. The policy can be swapped at runtime.
type RetryingRunner struct {
	inner    Runner
	policy   atomic.Pointer[RetryPolicy]
	observer RetryObserver
}

// RetryObserver is told about every retry that is scheduled.
type RetryObserver interface {
	ObserveRetry(command string)
}

// NewRetryingRunner wraps inner with policy.
func NewRetryingRunner(inner Runner, policy RetryPolicy, observer RetryObserver) *RetryingRunner {
	r := &RetryingRunner{inner: inner, observer: observer}
	r.SetPolicy(policy)
	return r
}

// SetPolicy replaces the policy used by subsequent calls.
func (r *RetryingRunner) SetPolicy(policy RetryPolicy) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	r.policy.Store(&policy)
}

// Policy returns the policy currently in effect.
func (r *RetryingRunner) Policy() RetryPolicy {
	return *r.policy.Load()
}

// Run implements Runner.
func (r *RetryingRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	policy := r.Policy()
	attempts := 0
	start := time.Now()
	var lastErr error

	op := func() (Result, error) {
		attempts++
		res, err := r.inner.Run(ctx, cmd)
		if err == nil {
			return res, nil
		}
		if !policy.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		lastErr = err
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.Warn("Retry", "%s failed with transient error, retrying in %s: %v", cmd, wait, err)
			if r.observer != nil {
				r.observer.ObserveRetry(cmd.String())
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}

	// The caller's context ended while waiting between attempts.
	if lastErr != nil && !errors.Is(err, lastErr) && ctx.Err() != nil && !api.IsTimeout(err) {
		return res, interrupted(ctx, cmd, start, attempts, lastErr)
	}

	var execErr *api.ExecutionError
	if errors.As(err, &execErr) {
		tagged := *execErr
		tagged.Attempts = attempts
		if attempts >= policy.MaxAttempts && policy.MaxAttempts > 1 && policy.Retryable(err) {
			tagged.RetriesExhausted = true
		}
		return res, &tagged
	}
	return res, err
}

func interrupted(ctx context.Context, cmd Command, start time.Time, attempts int, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		waited := time.Since(start)
		if deadline, ok := ctx.Deadline(); ok {
			waited = deadline.Sub(start)
		}
		logging.Warn("Retry", "%s ran out of time after %d attempts", cmd, attempts)
		return &api.TimeoutError{
			Command:   cmd.String(),
			Timeout:   waited.Round(time.Millisecond).String(),
			LastError: lastErr.Error(),
		}
	}
	return fmt.Errorf("%s cancelled after %d attempts (last error: %v): %w", cmd, attempts, lastErr, ctx.Err())
}
