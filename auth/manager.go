package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"go.agile6.com/mcpgw/audit"
	"go.agile6.com/mcpgw/internal/metrics"
	"go.agile6.com/mcpgw/store"
	"go.agile6.com/mcpgw/token"
)

// Verification failure reasons.
const (
	ReasonMalformed = "malformed"
	ReasonNotFound  = "not_found"
	ReasonRevoked   = "revoked"
)

// GenerateWarning accompanies every generation response. The raw token is
// shown exactly once.
const GenerateWarning = "Store this token now: it cannot be retrieved again."

const usageUpdateTimeout = 5 * time.Second

// TokenManager owns the lifecycle of programmatic access tokens:
// generation, validation, revocation and the administrative operations
// over a user's tokens. All state lives in the backing store; the manager
// itself is stateless and safe for concurrent use.
type TokenManager struct {
	store  store.Store
	sink   audit.Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewTokenManager creates a TokenManager. st may be nil when no backing
// store is configured; every token operation then fails with
// ErrStorageUnavailable.
func NewTokenManager(st store.Store, sink audit.Sink, logger zerolog.Logger) *TokenManager {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &TokenManager{
		store:  st,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Provenance records where a generation request came from.
type Provenance struct {
	IP        string
	UserAgent string
}

// GeneratedToken is the one response in the system's lifetime that
// contains the raw token.
type GeneratedToken struct {
	Token       string    `json:"token"`
	TokenID     string    `json:"tokenId"`
	UserID      string    `json:"userId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Warning     string    `json:"warning"`
}

// Generate mints a new access token for userID. It performs three
// independent writes (record, id index, user list); a partial failure can
// leave an orphaned index or list entry, which the read paths tolerate.
func (m *TokenManager) Generate(ctx context.Context, userID, description string, prov Provenance) (*GeneratedToken, error) {
	if m.store == nil {
		return nil, ErrStorageUnavailable
	}

	raw, err := token.NewAccessToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	tokenID, err := token.NewID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token id: %w", err)
	}

	now := m.now().UTC()
	rec := &TokenRecord{
		TokenHash:   token.Hash(raw),
		TokenID:     tokenID,
		UserID:      userID,
		Description: description,
		CreatedAt:   now,
		Metadata: TokenMetadata{
			CreatedFromIP:        prov.IP,
			CreatedFromUserAgent: prov.UserAgent,
		},
	}

	if err := m.putRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, idKey(tokenID), rec.TokenHash); err != nil {
		return nil, fmt.Errorf("failed to persist token index: %w", err)
	}
	if err := m.appendID(ctx, userKey(userID), tokenID); err != nil {
		return nil, fmt.Errorf("failed to persist user token list: %w", err)
	}

	metrics.TokensIssuedTotal.Inc()
	m.sink.Record(ctx, audit.Event{
		Action:  "token_generate",
		UserID:  userID,
		TokenID: tokenID,
		IP:      prov.IP,
		Success: true,
	})
	return &GeneratedToken{
		Token:       raw,
		TokenID:     tokenID,
		UserID:      userID,
		Description: description,
		CreatedAt:   now,
		Warning:     GenerateWarning,
	}, nil
}

// VerifyResult reports the outcome of a token validation.
type VerifyResult struct {
	Valid   bool
	Reason  string
	TokenID string
	UserID  string
	Record  *TokenRecord
}

// Verify validates a raw access token. The format gate runs before any
// hashing or storage access. On success the usage metadata update is
// launched in the background and never affects the caller's result. There
// is no IP restriction: a token presented from a new IP is accepted and
// the change is recorded for audit.
func (m *TokenManager) Verify(ctx context.Context, raw, requestIP string) (*VerifyResult, error) {
	if m.store == nil {
		return nil, ErrStorageUnavailable
	}
	if !token.IsWellFormed(raw) {
		metrics.TokenValidationsTotal.WithLabelValues(ReasonMalformed).Inc()
		return &VerifyResult{Reason: ReasonMalformed}, nil
	}

	hash := token.Hash(raw)
	rec, err := m.getRecordByHash(ctx, hash)
	if err == store.ErrKeyNotFound {
		metrics.TokenValidationsTotal.WithLabelValues(ReasonNotFound).Inc()
		return &VerifyResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !token.ConstantTimeEqual(rec.TokenHash, hash) {
		// Self-consistency check: the stored hash field must match the key
		// the record was found under.
		m.logger.Warn().Str("token_id", rec.TokenID).Msg("token record hash mismatch")
		metrics.TokenValidationsTotal.WithLabelValues(ReasonNotFound).Inc()
		return &VerifyResult{Reason: ReasonNotFound}, nil
	}
	if rec.Revoked() {
		metrics.TokenValidationsTotal.WithLabelValues(ReasonRevoked).Inc()
		return &VerifyResult{Reason: ReasonRevoked, TokenID: rec.TokenID, UserID: rec.UserID}, nil
	}

	go m.recordUsage(context.WithoutCancel(ctx), rec.TokenHash, requestIP)

	metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()
	return &VerifyResult{
		Valid:   true,
		TokenID: rec.TokenID,
		UserID:  rec.UserID,
		Record:  rec,
	}, nil
}

// recordUsage is the fire-and-forget half of Verify. It re-reads the
// record so a revocation landing between the validation and the usage
// write is not overwritten. It still races with concurrent validations
// of the same token; the usage counter may undercount under load, which
// is accepted for a telemetry field.
func (m *TokenManager) recordUsage(ctx context.Context, tokenHash, requestIP string) {
	ctx, cancel := context.WithTimeout(ctx, usageUpdateTimeout)
	defer cancel()

	rec, err := m.getRecordByHash(ctx, tokenHash)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to record token usage")
		return
	}
	now := m.now().UTC()
	rec.LastUsedAt = &now
	rec.Metadata.UsageCount++
	rec.Metadata.LastUsedFromIP = requestIP
	if err := m.putRecord(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("token_id", rec.TokenID).Msg("failed to record token usage")
	}
}

// Revoke marks a token revoked. Revoking an already-revoked token is a
// reported failure, not a silent success.
func (m *TokenManager) Revoke(ctx context.Context, tokenID, reason string) error {
	if m.store == nil {
		return ErrStorageUnavailable
	}
	rec, err := m.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if rec.Revoked() {
		return ErrTokenAlreadyRevoked
	}

	now := m.now().UTC()
	rec.RevokedAt = &now
	rec.RevocationReason = reason
	if err := m.putRecord(ctx, rec); err != nil {
		return err
	}
	if err := m.appendID(ctx, revokedTokensKey, rec.TokenID); err != nil {
		// Revocation itself is already persisted on the record; the global
		// list is an audit aid.
		m.logger.Warn().Err(err).Str("token_id", rec.TokenID).Msg("failed to append to revoked token list")
	}

	metrics.TokensRevokedTotal.Inc()
	m.sink.Record(ctx, audit.Event{
		Action:  "token_revoke",
		UserID:  rec.UserID,
		TokenID: rec.TokenID,
		Success: true,
		Reason:  reason,
	})
	return nil
}

// Unrevoke clears a token's revocation, returning it to the active state.
// Administrative path only.
func (m *TokenManager) Unrevoke(ctx context.Context, tokenID string) error {
	if m.store == nil {
		return ErrStorageUnavailable
	}
	rec, err := m.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}

	rec.RevokedAt = nil
	rec.RevocationReason = ""
	if err := m.putRecord(ctx, rec); err != nil {
		return err
	}
	if err := m.removeID(ctx, revokedTokensKey, rec.TokenID); err != nil {
		m.logger.Warn().Err(err).Str("token_id", rec.TokenID).Msg("failed to remove from revoked token list")
	}

	m.sink.Record(ctx, audit.Event{
		Action:  "token_unrevoke",
		UserID:  rec.UserID,
		TokenID: rec.TokenID,
		Success: true,
	})
	return nil
}

// ListTokens resolves every token id in the user's list to its summary.
// Orphaned ids (a crash between generation writes) are skipped rather
// than failing the listing.
func (m *TokenManager) ListTokens(ctx context.Context, userID string) ([]TokenSummary, error) {
	if m.store == nil {
		return nil, ErrStorageUnavailable
	}
	ids, err := m.readIDList(ctx, userKey(userID))
	if err != nil {
		return nil, err
	}

	summaries := make([]TokenSummary, 0, len(ids))
	for _, id := range ids {
		rec, err := m.getRecordByID(ctx, id)
		if err == ErrTokenNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summarize(rec))
	}
	return summaries, nil
}

// GetTokenMetadata returns the full record for a token id. An orphaned id
// reports not found rather than crashing.
func (m *TokenManager) GetTokenMetadata(ctx context.Context, tokenID string) (*TokenRecord, error) {
	if m.store == nil {
		return nil, ErrStorageUnavailable
	}
	return m.getRecordByID(ctx, tokenID)
}

// UpdateDescription replaces a token's free-text purpose label.
func (m *TokenManager) UpdateDescription(ctx context.Context, tokenID, description string) error {
	if m.store == nil {
		return ErrStorageUnavailable
	}
	rec, err := m.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}
	rec.Description = description
	return m.putRecord(ctx, rec)
}

// DeleteToken removes a token entirely: record, id index, user list entry
// and any revoked-list entry.
func (m *TokenManager) DeleteToken(ctx context.Context, tokenID string) error {
	if m.store == nil {
		return ErrStorageUnavailable
	}
	rec, err := m.getRecordByID(ctx, tokenID)
	if err != nil {
		return err
	}

	if err := m.store.Delete(ctx, hashKey(rec.TokenHash)); err != nil {
		return fmt.Errorf("failed to delete token record: %w", err)
	}
	if err := m.store.Delete(ctx, idKey(rec.TokenID)); err != nil {
		return fmt.Errorf("failed to delete token index: %w", err)
	}
	if err := m.removeID(ctx, userKey(rec.UserID), rec.TokenID); err != nil {
		return fmt.Errorf("failed to update user token list: %w", err)
	}
	if err := m.removeID(ctx, revokedTokensKey, rec.TokenID); err != nil {
		m.logger.Warn().Err(err).Str("token_id", rec.TokenID).Msg("failed to remove from revoked token list")
	}

	m.sink.Record(ctx, audit.Event{
		Action:  "token_delete",
		UserID:  rec.UserID,
		TokenID: rec.TokenID,
		Success: true,
	})
	return nil
}

// Stats aggregates counts and usage over a user's tokens.
func (m *TokenManager) Stats(ctx context.Context, userID string) (*TokenStats, error) {
	summaries, err := m.ListTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &TokenStats{Total: len(summaries)}
	for _, s := range summaries {
		if s.IsRevoked {
			stats.Revoked++
		} else {
			stats.Active++
		}
		stats.TotalUsage += s.UsageCount
		if s.LastUsedAt != nil && (stats.LastUsed == nil || s.LastUsedAt.After(*stats.LastUsed)) {
			stats.LastUsed = s.LastUsedAt
		}
	}
	return stats, nil
}

// RevokeAllResult reports the outcome of a bulk revocation.
type RevokeAllResult struct {
	Revoked int      `json:"revoked"`
	Errors  []string `json:"errors,omitempty"`
}

// RevokeAll revokes every active token of a user. Best effort: per-token
// failures are collected, and already-revoked tokens are skipped.
func (m *TokenManager) RevokeAll(ctx context.Context, userID, reason string) (*RevokeAllResult, error) {
	if m.store == nil {
		return nil, ErrStorageUnavailable
	}
	ids, err := m.readIDList(ctx, userKey(userID))
	if err != nil {
		return nil, err
	}

	result := &RevokeAllResult{}
	for _, id := range ids {
		switch err := m.Revoke(ctx, id, reason); err {
		case nil:
			result.Revoked++
		case ErrTokenAlreadyRevoked, ErrTokenNotFound:
			// Already done, or orphaned id.
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
		}
	}
	return result, nil
}

// ValidateAdminAccess reports whether an authenticated email belongs to
// the allow-listed organizational domain. Exact raw suffix match.
func ValidateAdminAccess(email, allowedDomain string) bool {
	if allowedDomain == "" {
		return false
	}
	return strings.HasSuffix(email, "@"+allowedDomain)
}

func summarize(rec *TokenRecord) TokenSummary {
	return TokenSummary{
		TokenID:          rec.TokenID,
		Description:      rec.Description,
		CreatedAt:        rec.CreatedAt,
		LastUsedAt:       rec.LastUsedAt,
		IsRevoked:        rec.Revoked(),
		RevocationReason: rec.RevocationReason,
		UsageCount:       rec.Metadata.UsageCount,
	}
}

func (m *TokenManager) putRecord(ctx context.Context, rec *TokenRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := m.store.Put(ctx, hashKey(rec.TokenHash), string(blob)); err != nil {
		return fmt.Errorf("failed to persist token record: %w", err)
	}
	return nil
}

func (m *TokenManager) getRecordByHash(ctx context.Context, hash string) (*TokenRecord, error) {
	blob, err := m.store.Get(ctx, hashKey(hash))
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read token record: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

// getRecordByID resolves a token id through the index. Any broken link is
// reported as ErrTokenNotFound.
func (m *TokenManager) getRecordByID(ctx context.Context, tokenID string) (*TokenRecord, error) {
	hash, err := m.store.Get(ctx, idKey(tokenID))
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to read token index: %w", err)
	}
	rec, err := m.getRecordByHash(ctx, hash)
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (m *TokenManager) readIDList(ctx context.Context, key string) ([]string, error) {
	blob, err := m.store.Get(ctx, key)
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read id list: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(blob), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal id list: %w", err)
	}
	return ids, nil
}

func (m *TokenManager) writeIDList(ctx context.Context, key string, ids []string) error {
	blob, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal id list: %w", err)
	}
	if err := m.store.Put(ctx, key, string(blob)); err != nil {
		return fmt.Errorf("failed to persist id list: %w", err)
	}
	return nil
}

func (m *TokenManager) appendID(ctx context.Context, key, id string) error {
	ids, err := m.readIDList(ctx, key)
	if err != nil {
		return err
	}
	return m.writeIDList(ctx, key, append(ids, id))
}

func (m *TokenManager) removeID(ctx context.Context, key, id string) error {
	ids, err := m.readIDList(ctx, key)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if !token.ConstantTimeEqual(existing, id) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	return m.writeIDList(ctx, key, kept)
}
