package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.agile6.com/mcpgw/store"
)

func newTestStore(t *testing.T, prefix string) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, prefix)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "mcpgw")

	_, err := s.Get(ctx, "token:hash:abc")
	require.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, s.Put(ctx, "token:hash:abc", `{"userId":"u1"}`))
	val, err := s.Get(ctx, "token:hash:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"userId":"u1"}`, val)

	require.NoError(t, s.Delete(ctx, "token:hash:abc"))
	_, err = s.Get(ctx, "token:hash:abc")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestListKeysStripsDeploymentPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "mcpgw")

	require.NoError(t, s.Put(ctx, "token:id:tok_a", "hash-a"))
	require.NoError(t, s.Put(ctx, "token:id:tok_b", "hash-b"))
	require.NoError(t, s.Put(ctx, "user:tokens:u1", `["tok_a"]`))

	keys, err := s.ListKeys(ctx, "token:id:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"token:id:tok_a", "token:id:tok_b"}, keys)
}

func TestNoPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.Put(ctx, "revoked:tokens", `[]`))
	val, err := s.Get(ctx, "revoked:tokens")
	require.NoError(t, err)
	assert.Equal(t, `[]`, val)

	keys, err := s.ListKeys(ctx, "revoked:")
	require.NoError(t, err)
	assert.Equal(t, []string{"revoked:tokens"}, keys)
}
