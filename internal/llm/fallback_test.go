package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	scouterrors "scout/internal/errors"
)

func newTestPool(t *testing.T, clients map[string]*ScriptedClient) *Pool {
	t.Helper()
	pool, err := NewPool(func(model string) (Client, error) {
		client, ok := clients[model]
		if !ok {
			return nil, errors.New("unknown model " + model)
		}
		return client, nil
	}, nil)
	require.NoError(t, err)
	return pool
}

func noRetry() scouterrors.RetryConfig {
	return scouterrors.RetryConfig{MaxAttempts: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestInvokeWithFallbackPreferredSucceeds(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"primary": NewScriptedClient("primary", TextStep("hello")),
		"backup":  NewScriptedClient("backup", TextStep("unused")),
	}
	pool := newTestPool(t, clients)

	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "primary",
		Chain:          []ModelConfig{{Name: "backup"}},
		RetryConfig:    noRetry(),
	})

	require.True(t, result.Success)
	require.Equal(t, "primary", result.ModelUsed)
	require.Equal(t, "hello", result.Response.Content)
	require.Len(t, result.Attempts, 1)
	require.Zero(t, clients["backup"].Calls())
}

func TestInvokeWithFallbackAdvancesChain(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"primary": NewScriptedClient("primary", ErrStep(errors.New("model overloaded"))),
		"backup":  NewScriptedClient("backup", TextStep("rescued")),
	}
	pool := newTestPool(t, clients)

	var transitions []string
	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "primary",
		Chain:          []ModelConfig{{Name: "backup"}},
		RetryConfig:    noRetry(),
		OnFallback: func(from, to string, err error) {
			transitions = append(transitions, from+"->"+to)
		},
	})

	require.True(t, result.Success)
	require.Equal(t, "backup", result.ModelUsed)
	require.Len(t, result.Attempts, 2)
	require.Equal(t, []string{"primary->backup"}, transitions)
}

func TestInvokeWithFallbackExhaustion(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"a": NewScriptedClient("a", ErrStep(errors.New("service unavailable"))),
		"b": NewScriptedClient("b", ErrStep(errors.New("service unavailable"))),
		"c": NewScriptedClient("c", ErrStep(errors.New("service unavailable"))),
	}
	pool := newTestPool(t, clients)

	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "a",
		Chain:          []ModelConfig{{Name: "b"}, {Name: "c"}},
		RetryConfig:    noRetry(),
	})

	require.False(t, result.Success)
	require.Len(t, result.Attempts, 3)
	require.Error(t, result.Err)
}

func TestInvokeWithFallbackAuthErrorAbortsChain(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"a": NewScriptedClient("a", ErrStep(errors.New("401 unauthorized"))),
		"b": NewScriptedClient("b", TextStep("never reached")),
	}
	pool := newTestPool(t, clients)

	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "a",
		Chain:          []ModelConfig{{Name: "b"}},
		RetryConfig:    noRetry(),
	})

	require.False(t, result.Success)
	require.Len(t, result.Attempts, 1)
	require.Zero(t, clients["b"].Calls())
}

func TestInvokeWithFallbackFatalErrorAbortsChain(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"a": NewScriptedClient("a", ErrStep(errors.New("request exceeds context length"))),
		"b": NewScriptedClient("b", TextStep("never reached")),
	}
	pool := newTestPool(t, clients)

	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "a",
		Chain:          []ModelConfig{{Name: "b"}},
		RetryConfig:    noRetry(),
	})

	require.False(t, result.Success)
	require.Zero(t, clients["b"].Calls())
}

func TestInvokeWithFallbackRetriesTransientPerModel(t *testing.T) {
	clients := map[string]*ScriptedClient{
		"a": NewScriptedClient("a",
			ErrStep(errors.New("429 too many requests")),
			TextStep("second try"),
		),
	}
	pool := newTestPool(t, clients)

	result := InvokeWithFallback(context.Background(), pool, CompletionRequest{}, FallbackOptions{
		PreferredModel: "a",
		RetryConfig:    scouterrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})

	require.True(t, result.Success)
	require.Equal(t, 2, clients["a"].Calls())
	require.Len(t, result.Attempts, 1)
}

func TestBuildChainDeduplicates(t *testing.T) {
	chain := BuildChain("m2", []ModelConfig{{Name: "m1"}, {Name: "m2"}, {Name: "m3"}})
	names := make([]string, len(chain))
	for i, mc := range chain {
		names[i] = mc.Name
	}
	require.Equal(t, []string{"m2", "m1", "m3"}, names)
}

func TestBuildChainEmptyPreferred(t *testing.T) {
	chain := BuildChain("", []ModelConfig{{Name: "m1"}})
	require.Len(t, chain, 1)
	require.Equal(t, "m1", chain[0].Name)
}
