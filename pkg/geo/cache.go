package geo

import (
	"context"
	"errors"
	"sync"
)

// Cache stores resolved country codes by normalized location.
type Cache interface {
	Get(ctx context.Context, key string) (code string, ok bool, err error)
	Set(ctx context.Context, key, code string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	codes map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{codes: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.codes[key]
	return code, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[key] = code
	return nil
}

// Cached wraps a Resolver with a Cache. Definite answers are cached, including
// "not found"; transient failures are not. Cache errors fall through to the resolver.
type Cached struct {
	Resolver Resolver
	Cache    Cache
}

func (c Cached) Resolve(ctx context.Context, location string) (string, error) {
	key := Normalize(location)
	if key == "" {
		return "", ErrNotFound
	}
	if code, ok, err := c.Cache.Get(ctx, key); err == nil && ok {
		if code == Unresolved {
			return "", ErrNotFound
		}
		return code, nil
	}

	code, err := c.Resolver.Resolve(ctx, location)
	switch {
	case err == nil:
		_ = c.Cache.Set(ctx, key, code)
		return code, nil
	case errors.Is(err, ErrNotFound):
		_ = c.Cache.Set(ctx, key, Unresolved)
		return "", err
	default:
		return "", err
	}
}
