// Package retry wraps remote calls in bounded exponential backoff.
//
// Only failures classified as transient are retried; permanent failures and
// context cancellation surface immediately. Exhausting the attempt budget
// returns the last transient error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/mhadocs/docsync/internal/remote"
)

// Policy holds the retry parameters applied to every remote operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts uint
	// InitialInterval seeds the exponential backoff between attempts.
	InitialInterval time.Duration
	// MaxInterval caps the backoff between attempts.
	MaxInterval time.Duration
	// AttemptTimeout bounds each individual attempt. Zero means no
	// per-attempt deadline beyond the caller's context.
	AttemptTimeout time.Duration

	logger *zap.Logger
}

// DefaultPolicy mirrors the settings the pipeline has been run with.
func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		AttemptTimeout:  2 * time.Minute,
		logger:          logger,
	}
}

// WithLogger returns a copy of the policy carrying the given logger.
func (p Policy) WithLogger(logger *zap.Logger) Policy {
	p.logger = logger
	return p
}

// Do runs op under the policy and returns its result. The op name appears in
// per-attempt log events.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		start := time.Now()
		result, err := op(attemptCtx)
		latency := time.Since(start)

		if err == nil {
			if attempt > 1 {
				logger.Info("retry.recovered",
					zap.String("op", name),
					zap.Int("attempt", attempt),
					zap.Duration("latency", latency))
			}
			return result, nil
		}

		if !remote.IsTransient(err) {
			logger.Error("retry.permanent",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Duration("latency", latency),
				zap.Error(err))
			return result, backoff.Permanent(err)
		}

		logger.Warn("retry.attempt",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Duration("latency", latency),
			zap.Error(err))
		return result, err
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}

	maxTries := p.MaxAttempts
	if maxTries == 0 {
		maxTries = 1
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxTries))
	if err != nil {
		err = unwrapPermanent(err)
		// Permanent failures were already logged on their single attempt;
		// exhaustion only applies to transient errors that kept recurring.
		if remote.IsTransient(err) {
			logger.Error("retry.exhausted",
				zap.String("op", name),
				zap.Int("attempts", attempt),
				zap.Error(err))
		}
		return result, err
	}
	return result, nil
}

// unwrapPermanent strips the backoff marker so callers see the original
// classified error.
func unwrapPermanent(err error) error {
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Unwrap()
	}
	return err
}
