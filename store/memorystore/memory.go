// Package memorystore provides an in-process store.Store backed by
// ttlcache. Entries are written without a TTL; the cache is used for its
// concurrency-safe map and lifecycle, not for expiry.
package memorystore

import (
	"context"
	"strings"

	"github.com/jellydator/ttlcache/v3"

	"go.agile6.com/mcpgw/store"
)

// Store implements store.Store in memory. Intended for tests and local
// development; contents do not survive a restart.
type Store struct {
	cache *ttlcache.Cache[string, string]
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		cache: ttlcache.New[string, string](),
	}
}

// Get implements store.Store.Get.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	item := s.cache.Get(key)
	if item == nil {
		return "", store.ErrKeyNotFound
	}
	return item.Value(), nil
}

// Put implements store.Store.Put.
func (s *Store) Put(_ context.Context, key, value string) error {
	s.cache.Set(key, value, ttlcache.NoTTL)
	return nil
}

// Delete implements store.Store.Delete.
func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// ListKeys implements store.Store.ListKeys.
func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

var _ store.Store = (*Store)(nil)
