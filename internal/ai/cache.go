package ai

import (
	"context"
	"encoding/json"

	"dharani-backend/internal/lifecycle"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedMessages memoises timeline messages for identical prompts. Failures
// are not cached.
type CachedMessages struct {
	next  lifecycle.MessageGenerator
	cache *lru.Cache[string, string]
}

func NewCachedMessages(next lifecycle.MessageGenerator, size int) (*CachedMessages, error) {
	cache, err := lru.New[string, string](max(1, size))
	if err != nil {
		return nil, err
	}
	return &CachedMessages{next: next, cache: cache}, nil
}

func (c *CachedMessages) TimelineMessage(ctx context.Context, p lifecycle.MessagePrompt) (string, error) {
	key, err := promptKey(p)
	if err != nil {
		return c.next.TimelineMessage(ctx, p)
	}
	if msg, ok := c.cache.Get(key); ok {
		return msg, nil
	}
	msg, err := c.next.TimelineMessage(ctx, p)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, msg)
	return msg, nil
}

// promptKey relies on encoding/json sorting map keys.
func promptKey(p lifecycle.MessagePrompt) (string, error) {
	b, err := json.Marshal(struct {
		Role    string                 `json:"r"`
		Step    string                 `json:"s"`
		Context map[string]interface{} `json:"c"`
	}{p.Role, p.Step, p.Context})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
