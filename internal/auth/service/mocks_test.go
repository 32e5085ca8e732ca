package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	authrepo "github.com/spendlog/backend/internal/auth/repository"
)

type mockUserRepo struct {
	createFunc             func(ctx context.Context, user authdomain.User) error
	findByEmailFunc        func(ctx context.Context, email string) (authdomain.User, error)
	findByIDFunc           func(ctx context.Context, id authdomain.UserID) (authdomain.User, error)
	updatePasswordHashFunc func(ctx context.Context, id authdomain.UserID, hash string) error
}

func (m *mockUserRepo) Create(ctx context.Context, user authdomain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (authdomain.User, error) {
	if m.findByEmailFunc != nil {
		return m.findByEmailFunc(ctx, email)
	}
	return authdomain.User{}, authrepo.ErrUserNotFound
}

func (m *mockUserRepo) FindByID(ctx context.Context, id authdomain.UserID) (authdomain.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return authdomain.User{}, authrepo.ErrUserNotFound
}

func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, id authdomain.UserID, hash string) error {
	if m.updatePasswordHashFunc != nil {
		return m.updatePasswordHashFunc(ctx, id, hash)
	}
	return nil
}

type mockHasher struct {
	hashFunc    func(password string) (string, error)
	compareFunc func(hash string, password string) error
}

func (m *mockHasher) Hash(password string) (string, error) {
	if m.hashFunc != nil {
		return m.hashFunc(password)
	}
	return "hashed_" + password, nil
}

func (m *mockHasher) Compare(hash string, password string) error {
	if m.compareFunc != nil {
		return m.compareFunc(hash, password)
	}
	return nil
}

type mockIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (m *mockIDGenerator) NewID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("test-id-%d", m.next), nil
}

// memTokenStore is an in-memory refresh token store. WithTx holds the store
// lock for the whole closure, which mirrors the row-lock serialization of
// the real store, and restores a snapshot when the closure reports a storage
// error.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]authdomain.RefreshToken

	failMarkUsed error
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: make(map[string]authdomain.RefreshToken)}
}

func (s *memTokenStore) seed(token authdomain.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
}

func (s *memTokenStore) get(id string) (authdomain.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	return token, ok
}

func (s *memTokenStore) byHashLocked(hash string) (authdomain.RefreshToken, bool) {
	for _, token := range s.tokens {
		if token.TokenHash == hash {
			return token, true
		}
	}
	return authdomain.RefreshToken{}, false
}

func (s *memTokenStore) Create(ctx context.Context, token authdomain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return nil
}

func (s *memTokenStore) FindByTokenHash(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.byHashLocked(hash); ok {
		return token, nil
	}
	return authdomain.RefreshToken{}, authrepo.ErrRefreshTokenNotFound
}

func (s *memTokenStore) FindValidByUserID(ctx context.Context, userID string, now time.Time) ([]authdomain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []authdomain.RefreshToken
	for _, token := range s.tokens {
		if token.UserID == userID && token.IsValidAt(now) {
			result = append(result, token)
		}
	}
	return result, nil
}

func (s *memTokenStore) FindByFamilyID(ctx context.Context, familyID string) ([]authdomain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []authdomain.RefreshToken
	for _, token := range s.tokens {
		if token.FamilyID == familyID {
			result = append(result, token)
		}
	}
	return result, nil
}

func (s *memTokenStore) CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, token := range s.tokens {
		if token.FamilyID == familyID && token.IsValidAt(now) {
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countDistinctAgentsLocked(familyID), nil
}

func (s *memTokenStore) countDistinctAgentsLocked(familyID string) int {
	agents := make(map[string]bool)
	for _, token := range s.tokens {
		if token.FamilyID == familyID {
			agents[token.UserAgent] = true
		}
	}
	return len(agents)
}

func (s *memTokenStore) CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countRecentLocked(familyID, since), nil
}

func (s *memTokenStore) countRecentLocked(familyID string, since time.Time) int {
	count := 0
	for _, token := range s.tokens {
		if token.FamilyID == familyID && token.CreatedAt.After(since) {
			count++
		}
	}
	return count
}

func (s *memTokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeFamilyLocked(familyID)
	return nil
}

func (s *memTokenStore) revokeFamilyLocked(familyID string) {
	for id, token := range s.tokens {
		if token.FamilyID == familyID {
			token.IsRevoked = true
			s.tokens[id] = token
		}
	}
}

func (s *memTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, token := range s.tokens {
		if token.ExpiresAt.Before(now) {
			delete(s.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memTokenStore) TxManager() authrepo.RefreshTokenTxManagerInterface {
	return &memTxManager{store: s}
}

type memTxManager struct {
	store *memTokenStore
}

func (m *memTxManager) WithTx(ctx context.Context, fn func(context.Context, authrepo.RefreshTokenTx) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	snapshot := make(map[string]authdomain.RefreshToken, len(m.store.tokens))
	for id, token := range m.store.tokens {
		snapshot[id] = token
	}

	if err := fn(ctx, &memTx{store: m.store}); err != nil {
		m.store.tokens = snapshot
		return err
	}
	return nil
}

// memTx operates on the already-locked store.
type memTx struct {
	store *memTokenStore
}

func (t *memTx) FindByTokenHashForUpdate(ctx context.Context, hash string) (authdomain.RefreshToken, error) {
	if token, ok := t.store.byHashLocked(hash); ok {
		return token, nil
	}
	return authdomain.RefreshToken{}, authrepo.ErrRefreshTokenNotFound
}

func (t *memTx) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	if t.store.failMarkUsed != nil {
		return t.store.failMarkUsed
	}
	token, ok := t.store.tokens[id]
	if !ok {
		return authrepo.ErrRefreshTokenNotFound
	}
	token.IsUsed = true
	token.UsedAt = &usedAt
	t.store.tokens[id] = token
	return nil
}

func (t *memTx) Create(ctx context.Context, token authdomain.RefreshToken) error {
	t.store.tokens[token.ID] = token
	return nil
}

func (t *memTx) RevokeFamily(ctx context.Context, familyID string) error {
	t.store.revokeFamilyLocked(familyID)
	return nil
}

func (t *memTx) CountDistinctAgentsInFamily(ctx context.Context, familyID string) (int, error) {
	return t.store.countDistinctAgentsLocked(familyID), nil
}

func (t *memTx) CountRecentInFamily(ctx context.Context, familyID string, since time.Time) (int, error) {
	return t.store.countRecentLocked(familyID, since), nil
}
