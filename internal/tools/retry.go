package tools

import (
	"context"
	"math"
	"math/rand"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// RetryPolicy configures per-tool retry behavior.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" mapstructure:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	Jitter        bool          `json:"jitter" mapstructure:"jitter"`
}

// DefaultRetryPolicy returns the policy applied when a tool has no preset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// RetryPresets maps tool names to tuned policies. Network-bound search tools
// retry aggressively; deterministic database lookups fail fast because a
// second identical query rarely changes the answer.
var RetryPresets = map[string]RetryPolicy{
	"web_search": {
		MaxRetries:    3,
		InitialDelay:  1500 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	"web_extract": {
		MaxRetries:    3,
		InitialDelay:  1500 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	"search_companies": {
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 1.5,
		Jitter:        true,
	},
	"get_company_details": {
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 1.5,
		Jitter:        true,
	},
	"enrich_company_contacts": {
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
}

// PolicyFor returns the preset for name, or the default policy.
func PolicyFor(name string) RetryPolicy {
	if policy, ok := RetryPresets[name]; ok {
		return policy
	}
	return DefaultRetryPolicy()
}

// AttemptRecord captures one failed attempt inside a retry loop.
type AttemptRecord struct {
	Attempt   int           `json:"attempt"`
	Err       string        `json:"error"`
	Delay     time.Duration `json:"delay"`
	Timestamp time.Time     `json:"timestamp"`
}

// RetryResult is the structured outcome of a retried execution. It is always
// returned, never an error: callers branch on Success.
type RetryResult struct {
	Success    bool
	Result     *Result
	Err        error
	Attempts   int
	TotalDelay time.Duration
	History    []AttemptRecord
}

// RetryOptions configures one ExecuteWithRetry call.
type RetryOptions struct {
	Policy  RetryPolicy
	OnRetry func(name string, attempt int, err error, delay time.Duration)
	Logger  logging.Logger
}

// ExecuteWithRetry runs fn under the given policy, retrying transient
// failures with exponential backoff. Non-retryable errors fail immediately.
func ExecuteWithRetry(ctx context.Context, fn func(ctx context.Context) (*Result, error), name string, opts RetryOptions) *RetryResult {
	logger := logging.OrNop(opts.Logger)
	policy := opts.Policy
	if policy.BackoffFactor == 0 {
		policy = DefaultRetryPolicy()
	}

	outcome := &RetryResult{}

	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome.Err = err
			return outcome
		}

		outcome.Attempts = attempt
		result, err := fn(ctx)
		if err == nil {
			outcome.Success = true
			outcome.Result = result
			return outcome
		}

		outcome.Err = err

		if !scouterrors.IsTransient(err) {
			logger.Debug("tool %s failed with non-retryable error: %v", name, err)
			return outcome
		}
		if attempt == policy.MaxRetries+1 {
			logger.Warn("tool %s exhausted %d attempts: %v", name, attempt, err)
			return outcome
		}

		delay := retryDelay(attempt, policy)
		outcome.History = append(outcome.History, AttemptRecord{
			Attempt:   attempt,
			Err:       err.Error(),
			Delay:     delay,
			Timestamp: time.Now(),
		})
		outcome.TotalDelay += delay

		logger.Debug("tool %s attempt %d failed: %v (waiting %v)", name, attempt, err, delay)
		if opts.OnRetry != nil {
			opts.OnRetry(name, attempt, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			outcome.Err = ctx.Err()
			return outcome
		}
	}

	return outcome
}

// retryDelay computes the wait before the next attempt after failed attempt
// n: min(maxDelay, initialDelay * factor^(n-1)), randomized ±25% when jitter
// is enabled.
func retryDelay(attempt int, policy RetryPolicy) time.Duration {
	multiplier := math.Pow(policy.BackoffFactor, float64(attempt-1))
	delay := time.Duration(float64(policy.InitialDelay) * multiplier)
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if policy.Jitter {
		jitterAmount := (rand.Float64()*2 - 1) * 0.25 * float64(delay)
		delay = time.Duration(float64(delay) + jitterAmount)
		if delay < 0 {
			delay = policy.InitialDelay
		}
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return delay
}
