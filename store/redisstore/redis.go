// Package redisstore implements store.Store on Redis. Keys are stored
// under an optional prefix so several deployments can share an instance.
package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"go.agile6.com/mcpgw/store"
)

const scanBatchSize = 100

// Store implements store.Store using a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Redis-backed store. prefix may be empty.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) redisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get implements store.Store.Get.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err == redis.Nil {
		return "", store.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key from redis: %w", err)
	}
	return val, nil
}

// Put implements store.Store.Put. Records are written without expiry; the
// token lifecycle owns deletion.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key in redis: %w", err)
	}
	return nil
}

// Delete implements store.Store.Delete.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key from redis: %w", err)
	}
	return nil
}

// ListKeys implements store.Store.ListKeys using SCAN so large keyspaces
// are not blocked on a single KEYS call.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.redisKey(prefix) + "*"
	strip := ""
	if s.prefix != "" {
		strip = s.prefix + ":"
	}

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys in redis: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, strip))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

var _ store.Store = (*Store)(nil)
