package auth

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.agile6.com/mcpgw/audit"
	"go.agile6.com/mcpgw/store"
	"go.agile6.com/mcpgw/store/memorystore"
	"go.agile6.com/mcpgw/token"
)

const waitFor = 2 * time.Second

func newTestManager(t *testing.T) (*TokenManager, *memorystore.Store, *audit.CaptureSink) {
	t.Helper()
	st := memorystore.New()
	sink := audit.NewCaptureSink()
	return NewTokenManager(st, sink, zerolog.Nop()), st, sink
}

// spyStore counts operations so tests can assert the store was never
// touched for malformed input.
type spyStore struct {
	inner store.Store
	calls atomic.Int64
}

func (s *spyStore) Get(ctx context.Context, key string) (string, error) {
	s.calls.Add(1)
	return s.inner.Get(ctx, key)
}

func (s *spyStore) Put(ctx context.Context, key, value string) error {
	s.calls.Add(1)
	return s.inner.Put(ctx, key, value)
}

func (s *spyStore) Delete(ctx context.Context, key string) error {
	s.calls.Add(1)
	return s.inner.Delete(ctx, key)
}

func (s *spyStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.calls.Add(1)
	return s.inner.ListKeys(ctx, prefix)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	m, _, sink := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "ci pipeline", Provenance{IP: "10.0.0.1", UserAgent: "curl/8.0"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gen.Token, "mcp_v1_"))
	assert.True(t, strings.HasPrefix(gen.TokenID, "tok_"))
	assert.Equal(t, "u1", gen.UserID)
	assert.Equal(t, "ci pipeline", gen.Description)
	assert.Equal(t, GenerateWarning, gen.Warning)
	assert.False(t, gen.CreatedAt.IsZero())

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "10.0.0.1", rec.Metadata.CreatedFromIP)
	assert.Equal(t, "curl/8.0", rec.Metadata.CreatedFromUserAgent)
	assert.Nil(t, rec.RevokedAt)
	assert.Nil(t, rec.LastUsedAt)
	assert.EqualValues(t, 0, rec.Metadata.UsageCount)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "token_generate", events[0].Action)
	assert.True(t, events[0].Success)
}

func TestGenerateWithoutStore(t *testing.T) {
	m := NewTokenManager(nil, nil, zerolog.Nop())
	_, err := m.Generate(context.Background(), "u1", "", Provenance{})
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestNoPlaintextAtRest(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "secret scan", Provenance{})
	require.NoError(t, err)

	keys, err := st.ListKeys(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, keys)
	for _, key := range keys {
		assert.NotContains(t, key, gen.Token)
		val, err := st.Get(ctx, key)
		require.NoError(t, err)
		assert.NotContains(t, val, gen.Token, "raw token leaked into value at %s", key)
	}
}

func TestVerifyEndToEnd(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "e2e", Provenance{IP: "10.0.0.1"})
	require.NoError(t, err)

	res, err := m.Verify(ctx, gen.Token, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, gen.TokenID, res.TokenID)
	assert.Equal(t, "u1", res.UserID)

	require.Eventually(t, func() bool {
		rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
		return err == nil && rec.Metadata.LastUsedFromIP == "10.0.0.1" && rec.Metadata.UsageCount == 1
	}, waitFor, 10*time.Millisecond, "usage metadata should be recorded in the background")

	// A new IP is accepted; the change is recorded, not blocked.
	res, err = m.Verify(ctx, gen.Token, "192.168.7.7")
	require.NoError(t, err)
	require.True(t, res.Valid)

	require.Eventually(t, func() bool {
		rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
		return err == nil && rec.Metadata.LastUsedFromIP == "192.168.7.7"
	}, waitFor, 10*time.Millisecond)

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", rec.Metadata.CreatedFromIP, "provenance is immutable")
	require.NotNil(t, rec.LastUsedAt)

	require.NoError(t, m.Revoke(ctx, gen.TokenID, "rotation"))
	res, err = m.Verify(ctx, gen.Token, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonRevoked, res.Reason)
}

func TestVerifyMalformedSkipsStore(t *testing.T) {
	ctx := context.Background()
	spy := &spyStore{inner: memorystore.New()}
	m := NewTokenManager(spy, nil, zerolog.Nop())

	for _, raw := range []string{
		"",
		"mcp_v1_",
		"tok_abcdef",
		"<script>alert(1)</script>",
		"'; DROP TABLE tokens;--",
		"mcp_v2_something",
		"\x00\x01\x02",
	} {
		res, err := m.Verify(ctx, raw, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonMalformed, res.Reason, "input %q", raw)
	}
	assert.EqualValues(t, 0, spy.calls.Load(), "malformed input must never reach the store")
}

func TestVerifyUnknownToken(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	res, err := m.Verify(ctx, "mcp_v1_5KJvsngHeMpm884wtkJNzQGaCErckhHJBGFsvd3VyK5q", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonNotFound, res.Reason)
	assert.Empty(t, res.TokenID)
	assert.Empty(t, res.UserID)
}

func TestVerifyWithoutStore(t *testing.T) {
	m := NewTokenManager(nil, nil, zerolog.Nop())
	_, err := m.Verify(context.Background(), "mcp_v1_abc", "")
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestRevokeIsSticky(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, gen.TokenID, "compromised"))

	for i := 0; i < 3; i++ {
		res, err := m.Verify(ctx, gen.Token, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, ReasonRevoked, res.Reason)
	}

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "compromised", rec.RevocationReason)
	require.NotNil(t, rec.RevokedAt)
}

func TestDoubleRevokeFails(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, gen.TokenID, "first"))

	err = m.Revoke(ctx, gen.TokenID, "second")
	require.ErrorIs(t, err, ErrTokenAlreadyRevoked)
}

func TestRevokeUnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Revoke(context.Background(), "tok_doesnotexist", "why not")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestUnrevoke(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, gen.TokenID, "oops"))

	blob, err := st.Get(ctx, "revoked:tokens")
	require.NoError(t, err)
	assert.Contains(t, blob, gen.TokenID)

	require.NoError(t, m.Unrevoke(ctx, gen.TokenID))

	res, err := m.Verify(ctx, gen.Token, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	blob, err = st.Get(ctx, "revoked:tokens")
	require.NoError(t, err)
	assert.NotContains(t, blob, gen.TokenID)

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.Nil(t, rec.RevokedAt)
	assert.Empty(t, rec.RevocationReason)
}

func TestListTokens(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	first, err := m.Generate(ctx, "u1", "alpha", Provenance{})
	require.NoError(t, err)
	second, err := m.Generate(ctx, "u1", "beta", Provenance{})
	require.NoError(t, err)
	_, err = m.Generate(ctx, "u2", "other user", Provenance{})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, second.TokenID, "stale"))

	summaries, err := m.ListTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, first.TokenID, summaries[0].TokenID)
	assert.False(t, summaries[0].IsRevoked)
	assert.Equal(t, second.TokenID, summaries[1].TokenID)
	assert.True(t, summaries[1].IsRevoked)
	assert.Equal(t, "stale", summaries[1].RevocationReason)

	// The listing never exposes raw tokens or hashes.
	blob, err := json.Marshal(summaries)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "mcp_v1_")
	assert.NotContains(t, string(blob), first.Token)
}

func TestListTokensSkipsOrphanedIDs(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)

	// Simulate a crash between generation writes: a user-list entry with
	// no matching index record.
	require.NoError(t, st.Put(ctx, "user:tokens:u1", `["tok_orphaned","`+gen.TokenID+`"]`))

	summaries, err := m.ListTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, gen.TokenID, summaries[0].TokenID)
}

func TestGetTokenMetadataOrphanedID(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.GetTokenMetadata(context.Background(), "tok_orphaned")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestUpdateDescription(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "old", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.UpdateDescription(ctx, gen.TokenID, "new purpose"))

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "new purpose", rec.Description)
}

func TestDeleteToken(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, gen.TokenID, "gone"))
	require.NoError(t, m.DeleteToken(ctx, gen.TokenID))

	_, err = m.GetTokenMetadata(ctx, gen.TokenID)
	require.ErrorIs(t, err, ErrTokenNotFound)

	res, err := m.Verify(ctx, gen.Token, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, res.Reason)

	summaries, err := m.ListTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, summaries)

	blob, err := st.Get(ctx, "revoked:tokens")
	require.NoError(t, err)
	assert.NotContains(t, blob, gen.TokenID)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	first, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	second, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, second.TokenID, "done"))

	res, err := m.Verify(ctx, first.Token, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Valid)

	require.Eventually(t, func() bool {
		stats, err := m.Stats(ctx, "u1")
		return err == nil && stats.TotalUsage == 1
	}, waitFor, 10*time.Millisecond)

	stats, err := m.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Revoked)
	require.NotNil(t, stats.LastUsed)
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	var gens []*GeneratedToken
	for i := 0; i < 3; i++ {
		gen, err := m.Generate(ctx, "u1", "", Provenance{})
		require.NoError(t, err)
		gens = append(gens, gen)
	}
	require.NoError(t, m.Revoke(ctx, gens[0].TokenID, "already"))

	result, err := m.RevokeAll(ctx, "u1", "offboarding")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Revoked)
	assert.Empty(t, result.Errors)

	for _, gen := range gens {
		res, err := m.Verify(ctx, gen.Token, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, ReasonRevoked, res.Reason)
	}

	// A second pass finds nothing left to revoke.
	result, err = m.RevokeAll(ctx, "u1", "offboarding")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Revoked)
}

func TestValidateAdminAccess(t *testing.T) {
	tests := []struct {
		name   string
		email  string
		domain string
		want   bool
	}{
		{"allowed", "admin@agile6.com", "agile6.com", true},
		{"different domain", "admin@evil.com", "agile6.com", false},
		{"subdomain", "admin@evil.agile6.com", "agile6.com", false},
		{"prefixed domain", "admin@evil-agile6.com", "agile6.com", false},
		{"empty email", "", "agile6.com", false},
		{"empty domain", "admin@agile6.com", "", false},
		{"trailing zero-width space", "admin@agile6.com​", "agile6.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateAdminAccess(tt.email, tt.domain))
		})
	}
}

func TestUsageUpdatePreservesConcurrentRevocation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	gen, err := m.Generate(ctx, "u1", "", Provenance{})
	require.NoError(t, err)

	// A revocation can land between Verify's check and the background
	// usage write. The usage write re-reads the record, so the revocation
	// fields must survive it.
	require.NoError(t, m.Revoke(ctx, gen.TokenID, "compromised"))
	m.recordUsage(ctx, token.Hash(gen.Token), "10.0.0.9")

	rec, err := m.GetTokenMetadata(ctx, gen.TokenID)
	require.NoError(t, err)
	assert.True(t, rec.Revoked())
	assert.Equal(t, "compromised", rec.RevocationReason)
	assert.Equal(t, int64(1), rec.Metadata.UsageCount)
	require.NotNil(t, rec.LastUsedAt)
}
