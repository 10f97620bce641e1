package llm

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"scout/internal/logging"
)

// Factory constructs a client for a model identifier.
type Factory func(model string) (Client, error)

// Pool lazily constructs and caches clients keyed by model name. It is
// built once at startup and injected wherever a client is needed; Invalidate
// supports configuration reloads without process restart.
type Pool struct {
	mu      sync.Mutex
	factory Factory
	cache   *lru.Cache[string, Client]
	logger  logging.Logger
}

const defaultPoolSize = 16

// NewPool creates a client pool backed by an LRU cache.
func NewPool(factory Factory, logger logging.Logger) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm: pool factory is required")
	}
	cache, err := lru.New[string, Client](defaultPoolSize)
	if err != nil {
		return nil, fmt.Errorf("llm: creating client cache: %w", err)
	}
	return &Pool{
		factory: factory,
		cache:   cache,
		logger:  logging.OrNop(logger),
	}, nil
}

// Get returns the cached client for model, constructing it on first use.
func (p *Pool) Get(model string) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.cache.Get(model); ok {
		return client, nil
	}

	client, err := p.factory(model)
	if err != nil {
		return nil, fmt.Errorf("llm: constructing client for %q: %w", model, err)
	}
	p.cache.Add(model, client)
	p.logger.Debug("constructed client for model %s", model)
	return client, nil
}

// Invalidate drops the cached client for model, forcing reconstruction on
// the next Get.
func (p *Pool) Invalidate(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache.Remove(model) {
		p.logger.Info("invalidated client for model %s", model)
	}
}

// InvalidateAll drops every cached client.
func (p *Pool) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
	p.logger.Info("invalidated all cached clients")
}

// Len reports the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
