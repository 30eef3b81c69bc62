// Package retry provides explicit retry policies shared by the pipeline
// stages. A Policy is a plain value so tests can substitute zero-delay
// policies instead of patching call sites.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy selects how the delay between attempts evolves.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// Policy describes a bounded retry loop.
type Policy struct {
	// MaxAttempts counts the first call; values below 1 mean one attempt.
	MaxAttempts int
	Delay       time.Duration
	Strategy    Strategy
	// MaxDelay caps exponential growth. Zero means 30s.
	MaxDelay time.Duration
}

// Fixed returns a policy waiting delay between each of attempts calls.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Strategy: StrategyFixed}
}

// Exponential returns a policy doubling the wait from initial up to max.
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: initial, Strategy: StrategyExponential, MaxDelay: max}
}

// Immediate retries without waiting. Used by tests.
func Immediate(attempts int) Policy {
	return Fixed(attempts, 0)
}

// Attempts returns the effective attempt count.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.Strategy != StrategyExponential {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval == 0 {
		b.MaxInterval = 30 * time.Second
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Notify is called before each wait with the 1-based attempt that failed.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, the attempts run
// out or ctx is done. The last operation error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.Attempts()-1)), ctx)

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		return op(ctx)
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
