package upstream

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sambena/edgegate/logger"
)

// Resolver is the pluggable service-discovery mechanism.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always returns a fixed base URL.
type StaticResolver string

func (s StaticResolver) Resolve(ctx context.Context) (string, error) {
	return string(s), nil
}

const endpointCacheKey = "upstream"

// EndpointCache memoizes a successful resolution for a fixed TTL so
// discovery is not consulted on every request. On discovery failure it
// falls back to the static configuration.
type EndpointCache struct {
	resolver Resolver
	fallback string
	cache    *expirable.LRU[string, string]
	logger   logger.Logger
}

func NewEndpointCache(resolver Resolver, fallback string, ttl time.Duration, log logger.Logger) *EndpointCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &EndpointCache{
		resolver: resolver,
		fallback: fallback,
		cache:    expirable.NewLRU[string, string](4, nil, ttl),
		logger:   log,
	}
}

// Resolve returns the upstream base URL, consulting discovery only on
// cache expiry.
func (c *EndpointCache) Resolve(ctx context.Context) string {
	if url, ok := c.cache.Get(endpointCacheKey); ok {
		return url
	}

	if c.resolver != nil {
		url, err := c.resolver.Resolve(ctx)
		if err == nil && url != "" {
			c.cache.Add(endpointCacheKey, url)
			c.logger.Debug("upstream endpoint resolved", logger.String("url", url))
			return url
		}
		if err != nil {
			c.logger.Warn("service discovery failed, using static fallback",
				logger.Err(err),
				logger.String("fallback", c.fallback))
		}
	}

	return c.fallback
}

// Invalidate drops the memoized endpoint so the next call re-resolves.
func (c *EndpointCache) Invalidate() {
	c.cache.Remove(endpointCacheKey)
}
