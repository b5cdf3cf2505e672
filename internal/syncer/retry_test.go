package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("request timeout")
	errPermanent = errors.New("execution reverted")
)

func TestRetryPolicySucceedsAfterTransient(t *testing.T) {
	var retries []int
	policy := RetryPolicy{
		MaxRetries: 3,
		Delay:      time.Millisecond,
		OnRetry:    func(_ error, attempt int) { retries = append(retries, attempt) },
	}

	calls := 0
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryPolicyExhausts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyPermanentStops(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Delay: time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyZeroRetries(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 0, Delay: time.Millisecond}
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyCustomClassifier(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:  2,
		Delay:       time.Millisecond,
		IsTransient: func(err error) bool { return errors.Is(err, errPermanent) },
	}
	attempts, err := policy.Do(context.Background(), func(context.Context) error {
		return errPermanent
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	policy := RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}
	_, err := policy.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
