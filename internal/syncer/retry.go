package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"positionScope/internal/chain"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// RetryPolicy retries transient chain failures with a fixed delay. Any other
// error stops immediately.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// IsTransient classifies errors; defaults to chain.IsTransient.
	IsTransient func(error) bool
	// OnRetry is called before each delayed re-attempt.
	OnRetry func(err error, attempt int)
}

func (p RetryPolicy) classify(err error) bool {
	if p.IsTransient != nil {
		return p.IsTransient(err)
	}
	return chain.IsTransient(err)
}

// Do runs fn until it succeeds, fails permanently, or exhausts MaxRetries
// re-attempts. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := fn(ctx)
		if err != nil && !p.classify(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, _ time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, attempts)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(notify),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return attempts, err
}

// logRetry returns an OnRetry hook that logs at warn level.
func logRetry(logger *zap.Logger, fields ...zap.Field) func(error, int) {
	return func(err error, attempt int) {
		logger.Warn("transient failure, retrying",
			append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
	}
}
