// Package tokens keeps the set of accepted API keys in memory and refreshes
// it from a repository in the background.
package tokens

import (
	"context"
	"sync"
)

// Entry is what is known about one API key.
type Entry struct {
	RateLimit int
	Comment   string
}

// Repository loads the full token set.
type Repository interface {
	LoadTokens(ctx context.Context) (map[string]Entry, error)
}

type Cache struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewCache() *Cache { return &Cache{} }

// Replace swaps in a copy of m. The cache counts as ready afterwards, even
// when m is empty.
func (c *Cache) Replace(m map[string]Entry) {
	next := make(map[string]Entry, len(m))
	for k, v := range m {
		next[k] = v
	}
	c.mu.Lock()
	c.m = next
	c.mu.Unlock()
}

func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m != nil
}

func (c *Cache) Valid(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.m[token]
	return ok
}

// RateLimit returns the per-interval limit for token, 0 meaning unlimited or unknown.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[token].RateLimit
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
