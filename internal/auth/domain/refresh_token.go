package domain

import "time"

// RefreshToken is a snapshot of one persisted refresh-token record. The raw
// bearer token is never stored; RawToken is populated only on the value
// returned to the caller at issuance.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	FamilyID  string
	ExpiresAt time.Time
	IsUsed    bool
	IsRevoked bool
	CreatedAt time.Time
	UsedAt    *time.Time
	IPAddress string
	UserAgent string
	RawToken  string
}

// IsValidAt reports whether the token may still be exchanged: never used,
// never revoked, and not yet expired at now.
func (t RefreshToken) IsValidAt(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && now.Before(t.ExpiresAt)
}

func (t RefreshToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
