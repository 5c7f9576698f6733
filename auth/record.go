package auth

import "time"

// Storage key layout. The namespace is flat; every mutation is a full
// read-modify-write of the JSON value at its key.
const (
	hashKeyPrefix    = "token:hash:"
	idKeyPrefix      = "token:id:"
	userKeyPrefix    = "user:tokens:"
	revokedTokensKey = "revoked:tokens"
)

func hashKey(hash string) string { return hashKeyPrefix + hash }
func idKey(id string) string     { return idKeyPrefix + id }
func userKey(userID string) string {
	return userKeyPrefix + userID
}

// TokenMetadata holds usage telemetry and provenance for a token. The
// usage counter is best-effort: concurrent validations may lose updates.
type TokenMetadata struct {
	UsageCount           int64  `json:"usageCount"`
	CreatedFromIP        string `json:"createdFromIp,omitempty"`
	CreatedFromUserAgent string `json:"createdFromUserAgent,omitempty"`
	LastUsedFromIP       string `json:"lastUsedFromIp,omitempty"`
}

// TokenRecord is the persisted unit, keyed by the SHA-256 hex digest of
// the raw token. The raw token itself is never stored.
type TokenRecord struct {
	TokenHash        string        `json:"tokenHash"`
	TokenID          string        `json:"tokenId"`
	UserID           string        `json:"userId"`
	Description      string        `json:"description"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastUsedAt       *time.Time    `json:"lastUsedAt,omitempty"`
	RevokedAt        *time.Time    `json:"revokedAt,omitempty"`
	RevocationReason string        `json:"revocationReason,omitempty"`
	Metadata         TokenMetadata `json:"metadata"`
}

// Revoked reports whether the record is revoked. A nil RevokedAt is the
// sole activity predicate.
func (r *TokenRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// TokenSummary is the admin-facing view of a token. It never carries the
// raw token or its hash.
type TokenSummary struct {
	TokenID          string     `json:"tokenId"`
	Description      string     `json:"description"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	IsRevoked        bool       `json:"isRevoked"`
	RevocationReason string     `json:"revocationReason,omitempty"`
	UsageCount       int64      `json:"usageCount"`
}

// TokenStats aggregates a user's tokens.
type TokenStats struct {
	Total      int        `json:"total"`
	Active     int        `json:"active"`
	Revoked    int        `json:"revoked"`
	TotalUsage int64      `json:"totalUsage"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
}
