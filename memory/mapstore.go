package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

type mapStore struct {
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewMapStore creates a process-local Store. Contents do not survive a
// restart.
func NewMapStore() Store {
	return &mapStore{entries: make(map[string][]byte)}
}

func (s *mapStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *mapStore) Load(_ context.Context, keys ...string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		val, ok := s.entries[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		entries = append(entries, Entry{Key: key, Value: slices.Clone(val)})
	}
	return entries, nil
}

func (s *mapStore) Save(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		if err := ValidateKey(e.Key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Key] = slices.Clone(e.Value)
	}
	return nil
}

func (s *mapStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}
