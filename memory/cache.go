package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Cache is a write-through view over a Store. Put and Remove persist before
// they return and update the cached copy under the same lock, so a write is
// visible to every later Get in the process. Per-key locks serialize writers
// of the same key without blocking readers or writers of other keys.
type Cache struct {
	store   Store
	values  map[string][]byte
	missing map[string]bool
	gen     uint64
	mu      sync.RWMutex

	keyLocks map[string]*sync.Mutex
	locksMu  sync.Mutex
}

// NewCache creates a Cache backed by store.
func NewCache(store Store) *Cache {
	return &Cache{
		store:    store,
		values:   make(map[string][]byte),
		missing:  make(map[string]bool),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Warm loads every key under prefix into the cache.
func (c *Cache) Warm(ctx context.Context, prefix string) error {
	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("warm index: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	entries, err := c.store.Load(ctx, keys...)
	if err != nil {
		return fmt.Errorf("warm load: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.values[e.Key] = e.Value
		delete(c.missing, e.Key)
	}
	c.gen++
	return nil
}

// Lock acquires the writer lock for key and returns its release function.
func (c *Cache) Lock(key string) func() {
	c.locksMu.Lock()
	l, ok := c.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[key] = l
	}
	c.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the value for key, reading through to the store on a miss.
// The boolean is false when the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	val, cached := c.values[key]
	absent := c.missing[key]
	gen := c.gen
	c.mu.RUnlock()

	if cached {
		return slices.Clone(val), true, nil
	}
	if absent {
		return nil, false, nil
	}

	entries, err := c.store.Load(ctx, key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, false, err
	}
	found := err == nil

	// Only publish the read if no write landed while the store was read.
	c.mu.Lock()
	if c.gen == gen {
		if found {
			c.values[key] = entries[0].Value
		} else {
			c.missing[key] = true
		}
	}
	c.mu.Unlock()

	if !found {
		return nil, false, nil
	}
	return slices.Clone(entries[0].Value), true, nil
}

// Put persists value and then publishes it to readers.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.store.Save(ctx, Entry{Key: key, Value: value}); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = slices.Clone(value)
	delete(c.missing, key)
	c.gen++
	return nil
}

// Remove deletes key from the store and the cache.
func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.missing[key] = true
	c.gen++
	return nil
}

// Entries returns cached entries under prefix, sorted by key.
func (c *Cache) Entries(prefix string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []Entry
	for key, val := range c.values {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, Entry{Key: key, Value: slices.Clone(val)})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}
