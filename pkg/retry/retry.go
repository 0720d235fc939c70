// Package retry runs calls to slow external services with a per-call
// timeout and bounded exponential backoff on transient failures.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"captionflow/log"
	apperrors "captionflow/pkg/errors"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy bounds how a call is retried.
type Policy struct {
	// Retries is the number of extra attempts after the first one.
	Retries     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// CallTimeout limits each attempt. Zero means no per-call limit.
	CallTimeout time.Duration
	Sleep       Sleeper
}

func (p Policy) normalize() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Backoff returns the wait before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalize()
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Do calls op until it succeeds, fails permanently, the retries run out, or
// ctx is done. A per-call deadline hit while ctx is still alive counts as a
// transient timeout.
func Do[T any](ctx context.Context, p Policy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalize()
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := call(ctx, p.CallTimeout, op)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		lastErr = err
		if !apperrors.IsTransient(err) || attempt == p.Retries {
			break
		}

		wait := p.Backoff(attempt)
		log.GetLogger().Warn("transient failure, retrying",
			zap.String("call", label),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := p.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func call[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if appErr, ok := apperrors.As(err); ok && appErr.Transient {
			return result, err
		}
		return result, apperrors.Transient(apperrors.CodeTimeout, "调用超时 Call timed out", err)
	}
	return result, err
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
