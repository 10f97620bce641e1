package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scouterrors "scout/internal/errors"
)

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestExecuteWithRetryFirstTrySuccess(t *testing.T) {
	outcome := ExecuteWithRetry(context.Background(), func(ctx context.Context) (*Result, error) {
		return &Result{Success: true, Output: "data"}, nil
	}, "web_search", RetryOptions{Policy: fastPolicy(3)})

	require.True(t, outcome.Success)
	require.Equal(t, 1, outcome.Attempts)
	require.Empty(t, outcome.History)
	require.Zero(t, outcome.TotalDelay)
}

func TestExecuteWithRetryTransientThenSuccess(t *testing.T) {
	calls := 0
	var retried []int
	outcome := ExecuteWithRetry(context.Background(), func(ctx context.Context) (*Result, error) {
		calls++
		if calls < 3 {
			return nil, scouterrors.NewTransientError(errors.New("connection reset"), "")
		}
		return &Result{Success: true}, nil
	}, "web_search", RetryOptions{
		Policy: fastPolicy(3),
		OnRetry: func(name string, attempt int, err error, delay time.Duration) {
			retried = append(retried, attempt)
		},
	})

	require.True(t, outcome.Success)
	require.Equal(t, 3, outcome.Attempts)
	require.Len(t, outcome.History, 2)
	require.Equal(t, []int{1, 2}, retried)
	require.Positive(t, outcome.TotalDelay)
}

func TestExecuteWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	outcome := ExecuteWithRetry(context.Background(), func(ctx context.Context) (*Result, error) {
		calls++
		return nil, errors.New("company not found")
	}, "search_companies", RetryOptions{Policy: fastPolicy(3)})

	require.False(t, outcome.Success)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, outcome.Attempts)
	require.Empty(t, outcome.History)
}

func TestExecuteWithRetryExhaustion(t *testing.T) {
	policy := fastPolicy(2)
	calls := 0
	outcome := ExecuteWithRetry(context.Background(), func(ctx context.Context) (*Result, error) {
		calls++
		return nil, errors.New("request timed out")
	}, "web_search", RetryOptions{Policy: policy})

	require.False(t, outcome.Success)
	require.Equal(t, policy.MaxRetries+1, calls)
	require.Len(t, outcome.History, policy.MaxRetries)
	require.Error(t, outcome.Err)
}

func TestExecuteWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	outcome := ExecuteWithRetry(ctx, func(ctx context.Context) (*Result, error) {
		calls++
		return &Result{Success: true}, nil
	}, "web_search", RetryOptions{Policy: fastPolicy(3)})

	require.False(t, outcome.Success)
	require.Zero(t, calls)
}

func TestRetryDelayMonotonicWithoutJitter(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    6,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		delay := retryDelay(attempt, policy)
		require.GreaterOrEqual(t, delay, prev)
		require.LessOrEqual(t, delay, policy.MaxDelay)
		prev = delay
	}
	require.Equal(t, policy.MaxDelay, prev)
}

func TestRetryDelayJitterWithinBounds(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}

	for i := 0; i < 100; i++ {
		delay := retryDelay(2, policy)
		require.GreaterOrEqual(t, delay, 1500*time.Millisecond)
		require.LessOrEqual(t, delay, 2500*time.Millisecond)
	}
}

func TestPolicyForPresets(t *testing.T) {
	search := PolicyFor("web_search")
	require.Equal(t, 1500*time.Millisecond, search.InitialDelay)

	lookup := PolicyFor("search_companies")
	require.Equal(t, 2, lookup.MaxRetries)
	require.Equal(t, 1.5, lookup.BackoffFactor)

	unknown := PolicyFor("never_heard_of_it")
	require.Equal(t, DefaultRetryPolicy(), unknown)
}
