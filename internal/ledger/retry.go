package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds the retries applied to transient ledger failures.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt; doubles afterwards
	MaxDelay    time.Duration // cap on a single delay
	CallTimeout time.Duration // per-attempt deadline; 0 = rely on the caller's context
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		CallTimeout: 5 * time.Second,
	}
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// AttemptObserver is an optional callback invoked after every attempt.
// err is nil for a successful attempt.
type AttemptObserver func(op string, attempt int, err error)

// Retrying decorates a Client with bounded exponential backoff. Only errors
// matching ErrTransient are retried; rejections and ErrNotFound propagate on
// the first occurrence.
type Retrying struct {
	inner   Client
	policy  RetryPolicy
	observe AttemptObserver
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// NewRetrying wraps inner with policy. A non-positive MaxAttempts means one attempt.
func NewRetrying(inner Client, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Retrying{
		inner:  inner,
		policy: policy,
		sleep:  sleepContext,
		logger: logger,
	}
}

// SetAttemptObserver configures the per-attempt callback.
func (r *Retrying) SetAttemptObserver(fn AttemptObserver) {
	r.observe = fn
}

// Publish implements Client.
func (r *Retrying) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	var ref string
	err := r.do(ctx, "publish", func(ctx context.Context) error {
		var err error
		ref, err = r.inner.Publish(ctx, key, payload)
		return err
	})
	return ref, err
}

// FetchLatest implements Client.
func (r *Retrying) FetchLatest(ctx context.Context, key string) ([]byte, string, error) {
	var (
		payload []byte
		ref     string
	)
	err := r.do(ctx, "fetch_latest", func(ctx context.Context) error {
		var err error
		payload, ref, err = r.inner.FetchLatest(ctx, key)
		return err
	})
	return payload, ref, err
}

// FetchByRef implements Client.
func (r *Retrying) FetchByRef(ctx context.Context, ref string) ([]byte, error) {
	var payload []byte
	err := r.do(ctx, "fetch_by_ref", func(ctx context.Context) error {
		var err error
		payload, err = r.inner.FetchByRef(ctx, ref)
		return err
	})
	return payload, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
		}
		err := fn(callCtx)
		cancel()

		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !IsTransient(err) {
			// The per-call deadline fired while the caller is still waiting.
			err = &TransientError{Op: op, Err: err}
		}
		if r.observe != nil {
			r.observe(op, attempt, err)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &TransientError{Op: op, Err: ctx.Err()}
		}
		if !IsTransient(err) {
			return err
		}
		if attempt >= r.policy.MaxAttempts {
			return &ExhaustedError{Op: op, Attempts: attempt, Last: err}
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("ledger call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return &TransientError{Op: op, Err: err}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
