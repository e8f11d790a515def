package resilience

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
)

const (
	defaultRetryAttempts  = 3
	defaultBaseDelay      = time.Second
	defaultAttemptTimeout = 15 * time.Second
)

// Policy bounds how an operation is retried.
type Policy struct {
	RetryAttempts  int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RetryAttempts:  defaultRetryAttempts,
		BaseDelay:      defaultBaseDelay,
		AttemptTimeout: defaultAttemptTimeout,
	}
}

// PolicyFromConfig fills unset fields with the defaults.
func PolicyFromConfig(cfg config.ResilienceConfig) Policy {
	p := DefaultPolicy()
	if cfg.RetryAttempts > 0 {
		p.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout > 0 {
		p.AttemptTimeout = cfg.AttemptTimeout
	}
	return p
}

// Operation is one attempt of a backend call.
type Operation[T any] func(ctx context.Context) (T, error)

// Fallback produces a value once the retry budget is spent or the runtime is offline.
// cause is the classified error of the last attempt.
type Fallback[T any] func(ctx context.Context, cause error) (T, error)

// Executor is the single place retry and backoff are enforced.
type Executor struct {
	policy       Policy
	connectivity Connectivity
	logg         *logger.Logger
	metrics      *metrics.ResilienceMetrics
	sleep        func(ctx context.Context, d time.Duration) error
}

type ExecutorOption func(*Executor)

func WithConnectivity(c Connectivity) ExecutorOption {
	return func(e *Executor) { e.connectivity = c }
}

func WithLogger(logg *logger.Logger) ExecutorOption {
	return func(e *Executor) {
		if logg != nil {
			e.logg = logg
		}
	}
}

func WithMetrics(m *metrics.ResilienceMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

func NewExecutor(policy Policy, opts ...ExecutorOption) *Executor {
	if policy.RetryAttempts <= 0 {
		policy.RetryAttempts = defaultRetryAttempts
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = defaultAttemptTimeout
	}
	e := &Executor{
		policy: policy,
		logg:   logger.Nop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// IsOffline reports the connectivity signal; no signal means online.
func (e *Executor) IsOffline() bool {
	return e.connectivity != nil && e.connectivity.IsOffline()
}

// Execute runs op under the retry policy without a fallback.
func Execute[T any](ctx context.Context, e *Executor, name string, op Operation[T]) (T, error) {
	return ExecuteWithFallback(ctx, e, name, op, nil)
}

// ExecuteWithFallback attempts op up to RetryAttempts times, waiting
// BaseDelay × attempt between attempts. Non-retryable errors return at once.
// When the budget is spent, or the runtime is offline, fallback is used if set.
func ExecuteWithFallback[T any](ctx context.Context, e *Executor, name string, op Operation[T], fallback Fallback[T]) (T, error) {
	var zero T
	ctx = e.logg.WithField(ctx, "operation", name)

	if e.IsOffline() {
		e.metrics.IncAttempt(name, "offline")
		cause := offlineError(name)
		e.logg.Warn(ctx, "offline, skipping network attempts")
		return useFallback(ctx, e, name, fallback, cause)
	}

	var last error
	for attempt := 1; attempt <= e.policy.RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
		value, err := op(attemptCtx)
		attemptErr := attemptCtx.Err()
		cancel()

		if err == nil {
			e.metrics.IncAttempt(name, "success")
			return value, nil
		}
		if attemptErr == context.DeadlineExceeded && pkgerrors.As(err) == nil {
			err = context.DeadlineExceeded
		}
		last = Classify(err)

		if !pkgerrors.IsRetryable(last) {
			e.metrics.IncAttempt(name, "fatal")
			return zero, last
		}
		e.metrics.IncAttempt(name, "retryable")
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   last.Error(),
		}), "attempt failed")

		if ctx.Err() != nil || attempt == e.policy.RetryAttempts {
			break
		}
		if e.IsOffline() {
			e.logg.Warn(ctx, "went offline, abandoning retries")
			break
		}
		if err := e.sleep(ctx, e.policy.BaseDelay*time.Duration(attempt)); err != nil {
			break
		}
	}

	e.logg.Error(ctx, "retry budget exhausted", last)
	return useFallback(ctx, e, name, fallback, last)
}

func useFallback[T any](ctx context.Context, e *Executor, name string, fallback Fallback[T], cause error) (T, error) {
	if fallback == nil {
		var zero T
		return zero, cause
	}
	e.metrics.IncFallback(name, "fallback")
	return fallback(ctx, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
