package llm

import (
	"context"
	"fmt"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// ModelConfig describes one entry in a fallback chain.
type ModelConfig struct {
	Name        string  `json:"name" mapstructure:"name"`
	Priority    int     `json:"priority" mapstructure:"priority"`
	MaxRetries  int     `json:"max_retries,omitempty" mapstructure:"max_retries"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
}

// Attempt records one model invocation inside a fallback walk.
type Attempt struct {
	Model   string
	Err     error
	Latency time.Duration
}

// FallbackResult is the structured outcome of a fallback walk. It is always
// populated; callers inspect Success rather than catching errors.
type FallbackResult struct {
	Success   bool
	Response  *CompletionResponse
	Err       error
	ModelUsed string
	Attempts  []Attempt
}

// FallbackOptions configures one InvokeWithFallback call.
type FallbackOptions struct {
	PreferredModel string
	Chain          []ModelConfig
	OnFallback     func(from, to string, err error)
	RetryConfig    scouterrors.RetryConfig
	Logger         logging.Logger
}

// BuildChain orders chain by priority and moves preferred to the front,
// de-duplicating by model name.
func BuildChain(preferred string, chain []ModelConfig) []ModelConfig {
	ordered := make([]ModelConfig, 0, len(chain)+1)
	if preferred != "" {
		ordered = append(ordered, ModelConfig{Name: preferred})
	}
	// chain is assumed priority-sorted by the caller's config layer; keep
	// relative order and drop duplicates of the preferred entry.
	seen := map[string]bool{preferred: preferred != ""}
	for _, mc := range chain {
		if seen[mc.Name] {
			continue
		}
		seen[mc.Name] = true
		ordered = append(ordered, mc)
	}
	return ordered
}

// InvokeWithFallback attempts req against the preferred model and walks the
// fallback chain on retryable failures. Each model gets its own retry budget
// for transient errors before the chain advances. Auth failures and fatal
// errors (bad key, safety block, context overflow) stop the walk early.
func InvokeWithFallback(ctx context.Context, pool *Pool, req CompletionRequest, opts FallbackOptions) *FallbackResult {
	logger := logging.OrNop(opts.Logger)
	chain := BuildChain(opts.PreferredModel, opts.Chain)
	result := &FallbackResult{}

	if len(chain) == 0 {
		result.Err = fmt.Errorf("llm: empty fallback chain")
		return result
	}

	retryConfig := opts.RetryConfig
	if retryConfig.MaxAttempts == 0 && retryConfig.BaseDelay == 0 {
		retryConfig = scouterrors.DefaultRetryConfig()
	}

	for i, mc := range chain {
		modelRetry := retryConfig
		if mc.MaxRetries > 0 {
			modelRetry.MaxAttempts = mc.MaxRetries
		}

		modelReq := req
		if mc.Temperature > 0 {
			modelReq.Temperature = mc.Temperature
		}

		start := time.Now()
		response, err := invokeModel(ctx, pool, mc.Name, modelReq, modelRetry, logger)
		latency := time.Since(start)

		result.Attempts = append(result.Attempts, Attempt{Model: mc.Name, Err: err, Latency: latency})

		if err == nil {
			result.Success = true
			result.Response = response
			result.ModelUsed = mc.Name
			return result
		}

		result.Err = err
		logger.Warn("model %s failed after %v: %v", mc.Name, latency, err)

		if IsAuthError(err) {
			logger.Error("authentication failure, aborting fallback chain")
			return result
		}
		if !ShouldFallback(err) {
			logger.Error("fatal model error, aborting fallback chain: %v", err)
			return result
		}

		if i+1 < len(chain) {
			next := chain[i+1].Name
			logger.Info("falling back %s -> %s", mc.Name, next)
			if opts.OnFallback != nil {
				opts.OnFallback(mc.Name, next, err)
			}
		}
	}

	return result
}

// invokeModel runs one model with its retry budget, classifying raw provider
// errors so only transient ones are retried.
func invokeModel(ctx context.Context, pool *Pool, model string, req CompletionRequest, retryConfig scouterrors.RetryConfig, logger logging.Logger) (*CompletionResponse, error) {
	client, err := pool.Get(model)
	if err != nil {
		return nil, err
	}

	return scouterrors.RetryWithResultAndLog(ctx, retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		response, err := client.Complete(ctx, req)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return response, nil
	}, logger)
}
