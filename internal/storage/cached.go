package storage

import (
	"context"
	"sync"

	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/message"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of values Cached keeps per storage.
const DefaultCacheSize = 256

// Cached is a read-through LRU cache in front of another storage. Writes go
// to the backing storage and evict the cached entry.
type Cached struct {
	framework.Storage

	size  int
	cache *lru.Cache[string, any]

	mu   sync.Mutex
	subs map[string]*Cached
}

func NewCached(inner framework.Storage, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Storage: inner, size: size, cache: cache, subs: make(map[string]*Cached)}, nil
}

// Unwrap returns the backing storage.
func (c *Cached) Unwrap() framework.Storage { return c.Storage }

func (c *Cached) Get(key string) (any, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	if v, ok := c.cache.Get(key); ok {
		v, err := copyValue(v)
		return v, true, err
	}
	v, ok, err := c.Storage.Get(key)
	if err != nil || !ok {
		return v, ok, err
	}
	c.cache.Add(key, v)
	v, err = copyValue(v)
	return v, true, err
}

func (c *Cached) GetOrDefault(key string, def any) (any, error) {
	return getOrDefault(c, key, def)
}

func (c *Cached) Put(key string, value any) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	c.cache.Remove(key)
	return c.Storage.Put(key, value)
}

func (c *Cached) Remove(key string) (any, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	c.cache.Remove(key)
	return c.Storage.Remove(key)
}

func (c *Cached) SubStorage(key string) (framework.Storage, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[key]; ok {
		return sub, nil
	}
	inner, err := c.Storage.SubStorage(key)
	if err != nil {
		return nil, err
	}
	sub, err := NewCached(inner, c.size)
	if err != nil {
		return nil, err
	}
	c.subs[key] = sub
	return sub, nil
}

func (c *Cached) RemoveSubStorage(key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	delete(c.subs, key)
	c.mu.Unlock()
	return c.Storage.RemoveSubStorage(key)
}

// Command and OnMsg run on the backing storage and may write through it, so
// they drop every cached value first.
func (c *Cached) Command(ctx context.Context, name string, param any) (any, error) {
	c.cache.Purge()
	return c.Storage.Command(ctx, name, param)
}

func (c *Cached) OnMsg(ctx context.Context, msg *message.Message) (*message.Message, error) {
	c.cache.Purge()
	return c.Storage.OnMsg(ctx, msg)
}
