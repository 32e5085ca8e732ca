package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	"github.com/spendlog/backend/internal/auth/service"
	"github.com/spendlog/backend/internal/common/clock"
	commonerrors "github.com/spendlog/backend/internal/common/errors"
	"github.com/spendlog/backend/internal/common/logger"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestEngine(t *testing.T, store *memTokenStore, users *mockUserRepo, cfg service.RotationConfig) (*service.RotationEngine, *service.TokenCodec, *clock.MockClock) {
	t.Helper()

	mockClock := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := logger.NewDiscard()

	codec, err := service.NewTokenCodec(testSigningKey, 15*time.Minute, mockClock, log)
	if err != nil {
		t.Fatalf("failed to create token codec: %v", err)
	}

	engine := service.NewRotationEngine(store, users, codec, &mockIDGenerator{}, mockClock, cfg, log)
	return engine, codec, mockClock
}

func defaultRotationConfig() service.RotationConfig {
	return service.RotationConfig{
		RefreshTokenTTL: 7 * 24 * time.Hour,
		BurstLimit:      5,
		BurstWindow:     time.Minute,
		MaxFamilyAgents: 1,
	}
}

func userFixture() (*mockUserRepo, authdomain.User) {
	user := authdomain.User{
		ID:           "user-123",
		Email:        "alice@example.com",
		PasswordHash: "hashed",
		Role:         authdomain.RoleUser,
	}
	repo := &mockUserRepo{
		findByIDFunc: func(ctx context.Context, id authdomain.UserID) (authdomain.User, error) {
			return user, nil
		},
	}
	return repo, user
}

func seedActiveToken(store *memTokenStore, raw, id, familyID, userAgent string, now time.Time) authdomain.RefreshToken {
	token := authdomain.RefreshToken{
		ID:        id,
		TokenHash: service.HashRefreshToken(raw),
		UserID:    "user-123",
		FamilyID:  familyID,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		CreatedAt: now.Add(-2 * time.Minute),
		IPAddress: "127.0.0.1",
		UserAgent: userAgent,
	}
	store.seed(token)
	return token
}

func TestRotationEngine_Rotate_Success(t *testing.T) {
	store := newMemTokenStore()
	users, user := userFixture()
	engine, codec, mockClock := newTestEngine(t, store, users, defaultRotationConfig())
	now := mockClock.Now()

	seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", now)

	result, err := engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.AccessToken == "" {
		t.Error("expected access token to be set")
	}
	if result.RefreshToken.RawToken == "" {
		t.Error("expected raw refresh token to be set")
	}
	if result.RefreshToken.RawToken == "raw-token-1" {
		t.Error("expected a new refresh token, got the presented one")
	}
	if result.RefreshToken.FamilyID != "family-1" {
		t.Errorf("expected successor in family-1, got %s", result.RefreshToken.FamilyID)
	}

	old, _ := store.get("t1")
	if !old.IsUsed {
		t.Error("expected presented token to be marked used")
	}
	if old.UsedAt == nil || !old.UsedAt.Equal(now) {
		t.Errorf("expected used_at %v, got %v", now, old.UsedAt)
	}

	successor, ok := store.get(result.RefreshToken.ID)
	if !ok {
		t.Fatal("expected successor to be persisted")
	}
	if successor.RawToken != "" {
		t.Error("raw token must not be persisted")
	}
	if successor.TokenHash != service.HashRefreshToken(result.RefreshToken.RawToken) {
		t.Error("persisted hash does not match returned raw token")
	}

	claims, err := codec.ParseAndVerify(result.AccessToken)
	if err != nil {
		t.Fatalf("expected access token to verify, got %v", err)
	}
	if claims.Subject != user.Email {
		t.Errorf("expected subject %s, got %s", user.Email, claims.Subject)
	}
}

func TestRotationEngine_Rotate_EmptyToken(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, _ := newTestEngine(t, store, users, defaultRotationConfig())

	_, err := engine.Rotate(context.Background(), "", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRotationEngine_Rotate_UnknownToken(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, _ := newTestEngine(t, store, users, defaultRotationConfig())

	_, err := engine.Rotate(context.Background(), "never-issued", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if service.IsTheftSignal(err) {
		t.Error("unknown token must be a benign rejection, not a theft signal")
	}
}

func TestRotationEngine_Rotate_ExpiredToken(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())
	now := mockClock.Now()

	token := seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", now)
	token.ExpiresAt = now.Add(-time.Hour)
	store.seed(token)

	_, err := engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}

	// Expiry is benign: the family stays untouched.
	stored, _ := store.get("t1")
	if stored.IsRevoked {
		t.Error("expired token must not trigger family revocation")
	}
}

func TestRotationEngine_Rotate_RevokedToken(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())

	token := seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", mockClock.Now())
	token.IsRevoked = true
	store.seed(token)

	_, err := engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrInvalidRefreshToken) {
		t.Errorf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRotationEngine_Rotate_ReuseRevokesFamily(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())

	seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", mockClock.Now())

	first, err := engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	_, err = engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}

	// The revocation committed even though the call returned an error:
	// every family member, the freshly issued successor included, is dead.
	family, _ := store.FindByFamilyID(context.Background(), "family-1")
	if len(family) != 2 {
		t.Fatalf("expected 2 tokens in family, got %d", len(family))
	}
	for _, token := range family {
		if !token.IsRevoked {
			t.Errorf("expected token %s to be revoked", token.ID)
		}
	}

	_, err = engine.Rotate(context.Background(), first.RefreshToken.RawToken, "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrInvalidRefreshToken) {
		t.Errorf("expected revoked successor to be rejected, got %v", err)
	}
}

func TestRotationEngine_Rotate_MultiAgentFamily(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())
	now := mockClock.Now()

	used := seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", now)
	used.IsUsed = true
	store.seed(used)
	seedActiveToken(store, "raw-token-2", "t2", "family-1", "agent-b", now)

	_, err := engine.Rotate(context.Background(), "raw-token-2", "127.0.0.1", "agent-b")
	if !errors.Is(err, service.ErrSuspiciousFamilyActivity) {
		t.Fatalf("expected ErrSuspiciousFamilyActivity, got %v", err)
	}

	family, _ := store.FindByFamilyID(context.Background(), "family-1")
	for _, token := range family {
		if !token.IsRevoked {
			t.Errorf("expected token %s to be revoked", token.ID)
		}
	}
}

func TestRotationEngine_Rotate_BurstRevokesFamily(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	cfg := defaultRotationConfig()
	cfg.BurstLimit = 3
	engine, _, mockClock := newTestEngine(t, store, users, cfg)
	now := mockClock.Now()

	// Three family members minted seconds apart, the fingerprint of
	// automated token mining.
	for i, raw := range []string{"raw-1", "raw-2", "raw-3"} {
		token := seedActiveToken(store, raw, raw, "family-1", "agent-a", now)
		token.CreatedAt = now.Add(-time.Duration(10-i) * time.Second)
		token.IsUsed = i < 2
		store.seed(token)
	}

	_, err := engine.Rotate(context.Background(), "raw-3", "127.0.0.1", "agent-a")
	if !errors.Is(err, service.ErrRotationRateExceeded) {
		t.Fatalf("expected ErrRotationRateExceeded, got %v", err)
	}

	family, _ := store.FindByFamilyID(context.Background(), "family-1")
	for _, token := range family {
		if !token.IsRevoked {
			t.Errorf("expected token %s to be revoked", token.ID)
		}
	}
}

func TestRotationEngine_Rotate_BurstBelowLimit(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	cfg := defaultRotationConfig()
	cfg.BurstLimit = 3
	engine, _, mockClock := newTestEngine(t, store, users, cfg)
	now := mockClock.Now()

	// Same family history, but the earlier rotations fall outside the
	// burst window.
	for i, raw := range []string{"raw-1", "raw-2", "raw-3"} {
		token := seedActiveToken(store, raw, raw, "family-1", "agent-a", now)
		token.CreatedAt = now.Add(-time.Duration(10-i) * time.Minute)
		token.IsUsed = i < 2
		store.seed(token)
	}

	if _, err := engine.Rotate(context.Background(), "raw-3", "127.0.0.1", "agent-a"); err != nil {
		t.Fatalf("expected rotation to succeed, got %v", err)
	}
}

func TestRotationEngine_Rotate_ConcurrentSingleWinner(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())

	seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", mockClock.Now())

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
		}(i)
	}
	wg.Wait()

	var successes, reuses int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, service.ErrTokenReuseDetected):
			reuses++
		default:
			t.Errorf("unexpected rotation error: %v", err)
		}
	}

	if successes != 1 || reuses != 1 {
		t.Errorf("expected exactly one winner and one reuse detection, got %d successes and %d reuses", successes, reuses)
	}
}

func TestRotationEngine_Rotate_StorageFailureRollsBack(t *testing.T) {
	store := newMemTokenStore()
	store.failMarkUsed = errors.New("disk failure")
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())

	seedActiveToken(store, "raw-token-1", "t1", "family-1", "agent-a", mockClock.Now())

	_, err := engine.Rotate(context.Background(), "raw-token-1", "127.0.0.1", "agent-a")
	if !errors.Is(err, commonerrors.ErrDatabaseError) {
		t.Fatalf("expected ErrDatabaseError, got %v", err)
	}

	stored, _ := store.get("t1")
	if stored.IsUsed {
		t.Error("expected mark-used to roll back on storage failure")
	}

	family, _ := store.FindByFamilyID(context.Background(), "family-1")
	if len(family) != 1 {
		t.Errorf("expected no successor after rollback, got %d tokens", len(family))
	}
}

func TestRotationEngine_IssueInitialFamily(t *testing.T) {
	store := newMemTokenStore()
	users, user := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())

	result, err := engine.IssueInitialFamily(context.Background(), user, "127.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.AccessToken == "" {
		t.Error("expected access token to be set")
	}
	if result.RefreshToken.RawToken == "" {
		t.Error("expected raw refresh token to be set")
	}
	if result.RefreshToken.FamilyID == "" {
		t.Error("expected a family id")
	}
	if !result.RefreshToken.ExpiresAt.Equal(mockClock.Now().Add(7 * 24 * time.Hour)) {
		t.Errorf("unexpected expiry %v", result.RefreshToken.ExpiresAt)
	}

	stored, ok := store.get(result.RefreshToken.ID)
	if !ok {
		t.Fatal("expected token to be persisted")
	}
	if stored.RawToken != "" {
		t.Error("raw token must not be persisted")
	}
	if stored.TokenHash != service.HashRefreshToken(result.RefreshToken.RawToken) {
		t.Error("persisted hash does not match returned raw token")
	}
}

func TestRotationEngine_RevokeAllForUser(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())
	now := mockClock.Now()

	seedActiveToken(store, "raw-1", "t1", "family-1", "agent-a", now)
	seedActiveToken(store, "raw-2", "t2", "family-2", "agent-a", now)
	other := seedActiveToken(store, "raw-3", "t3", "family-3", "agent-a", now)
	other.UserID = "user-456"
	store.seed(other)

	if err := engine.RevokeAllForUser(context.Background(), "user-123"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, id := range []string{"t1", "t2"} {
		token, _ := store.get(id)
		if !token.IsRevoked {
			t.Errorf("expected token %s to be revoked", id)
		}
	}

	untouched, _ := store.get("t3")
	if untouched.IsRevoked {
		t.Error("expected other user's token to stay active")
	}
}

func TestRotationEngine_Sweep(t *testing.T) {
	store := newMemTokenStore()
	users, _ := userFixture()
	engine, _, mockClock := newTestEngine(t, store, users, defaultRotationConfig())
	now := mockClock.Now()

	expired := seedActiveToken(store, "raw-1", "t1", "family-1", "agent-a", now)
	expired.ExpiresAt = now.Add(-time.Hour)
	expired.IsUsed = true
	store.seed(expired)

	expiredRevoked := seedActiveToken(store, "raw-2", "t2", "family-1", "agent-a", now)
	expiredRevoked.ExpiresAt = now.Add(-time.Minute)
	expiredRevoked.IsRevoked = true
	store.seed(expiredRevoked)

	// Used but unexpired rows survive the sweep: they are what makes reuse
	// of a consumed token detectable.
	liveUsed := seedActiveToken(store, "raw-3", "t3", "family-1", "agent-a", now)
	liveUsed.IsUsed = true
	store.seed(liveUsed)
	seedActiveToken(store, "raw-4", "t4", "family-1", "agent-a", now)

	deleted, err := engine.Sweep(context.Background(), now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	for _, id := range []string{"t1", "t2"} {
		if _, ok := store.get(id); ok {
			t.Errorf("expected token %s to be deleted", id)
		}
	}
	for _, id := range []string{"t3", "t4"} {
		if _, ok := store.get(id); !ok {
			t.Errorf("expected token %s to survive", id)
		}
	}
}
