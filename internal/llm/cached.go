package llm

import (
	"context"
	"log/slog"
	"strconv"

	"ChatPane/internal/cache"
)

// Cached answers repeated prompts from memory instead of calling the provider again
type Cached struct {
	inner  Provider
	cache  *cache.Cache
	logger *slog.Logger
}

func NewCached(inner Provider, c *cache.Cache, logger *slog.Logger) *Cached {
	return &Cached{inner: inner, cache: c, logger: logger}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Complete(ctx context.Context, req Request) (*Completion, error) {
	parts := make([]string, 0, 3+2*len(req.Turns))
	parts = append(parts, c.inner.Name(), req.System, strconv.Itoa(req.MaxTokens))
	for _, turn := range req.Turns {
		parts = append(parts, turn.Role, turn.Content)
	}
	key := cache.GenerateCacheKey(parts...)

	if text, ok := c.cache.Get(key); ok {
		c.logger.Info("cache hit", "key", key[:16])
		return &Completion{Text: text}, nil
	}

	out, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Put(key, out.Text)
	c.logger.Info("cached response", "key", key[:16])
	return out, nil
}
