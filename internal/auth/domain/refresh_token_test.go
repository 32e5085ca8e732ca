package domain

import (
	"testing"
	"time"
)

func TestRefreshToken_IsValidAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token RefreshToken
		want  bool
	}{
		{"active", RefreshToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"used", RefreshToken{ExpiresAt: now.Add(time.Hour), IsUsed: true}, false},
		{"revoked", RefreshToken{ExpiresAt: now.Add(time.Hour), IsRevoked: true}, false},
		{"expired", RefreshToken{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", RefreshToken{ExpiresAt: now}, false},
		{"used and revoked", RefreshToken{ExpiresAt: now.Add(time.Hour), IsUsed: true, IsRevoked: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.IsValidAt(now); got != tt.want {
				t.Errorf("IsValidAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshToken_IsExpiredAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	token := RefreshToken{ExpiresAt: now}
	if !token.IsExpiredAt(now) {
		t.Error("expected token expiring exactly now to be expired")
	}
	if token.IsExpiredAt(now.Add(-time.Second)) {
		t.Error("expected token to be live before expiry")
	}
}
