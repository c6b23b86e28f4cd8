package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	errbuilder "github.com/ZanzyTHEbar/errbuilder-go"
)

// FilePersistentCache is a file-backed cache that survives restarts. Values
// round-trip through JSON, so callers get map/slice/primitive shapes back
// rather than their original Go types.
type FilePersistentCache struct {
	store    map[string]persistedItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
}

type persistedItem struct {
	Value      json.RawMessage `json:"value"`
	Expiration int64           `json:"expiration"`
}

// NewFilePersistentCache creates a persistent cache with a default TTL,
// loading any previously saved state from filePath.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string) *FilePersistentCache {
	c := &FilePersistentCache{
		store:    make(map[string]persistedItem),
		ttl:      defaultTTL,
		filePath: filePath,
	}
	c.loadFromFile()
	return c
}

func (c *FilePersistentCache) loadFromFile() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, &c.store)
}

// saveToFileLocked writes the store to disk. Callers must hold the mutex.
func (c *FilePersistentCache) saveToFileLocked() error {
	data, err := json.Marshal(c.store)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0o644)
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if time.Now().UnixNano() > item.Expiration {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}

	var value interface{}
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return nil, errbuilder.GenericErr("cache item corrupted", err)
	}
	return value, nil
}

// Set adds or updates an item and persists the store.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return errbuilder.GenericErr("cache value not serializable", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = persistedItem{
		Value:      raw,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	return c.saveToFileLocked()
}

// Prune removes expired items and persists the store.
func (c *FilePersistentCache) Prune() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now().UnixNano()
	for key, item := range c.store {
		if now > item.Expiration {
			delete(c.store, key)
		}
	}
	return c.saveToFileLocked()
}
