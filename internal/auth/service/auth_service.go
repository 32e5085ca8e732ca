package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	authrepo "github.com/spendlog/backend/internal/auth/repository"
	"github.com/spendlog/backend/internal/common/clock"
	"github.com/spendlog/backend/internal/common/constants"
	commoncrypto "github.com/spendlog/backend/internal/common/crypto"
	"github.com/spendlog/backend/internal/common/logger"
)

type AuthService struct {
	users       authrepo.UserRepository
	tokens      authrepo.RefreshTokenRepository
	engine      *RotationEngine
	codec       *TokenCodec
	hasher      commoncrypto.PasswordHasher
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	log         *logger.Logger
}

func NewAuthService(
	users authrepo.UserRepository,
	tokens authrepo.RefreshTokenRepository,
	engine *RotationEngine,
	codec *TokenCodec,
	hasher commoncrypto.PasswordHasher,
	idGenerator commoncrypto.IDGenerator,
	clk clock.Clock,
	log *logger.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		tokens:      tokens,
		engine:      engine,
		codec:       codec,
		hasher:      hasher,
		idGenerator: idGenerator,
		clock:       clk,
		log:         log,
	}
}

type RegisterInput struct {
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type RequestMeta struct {
	IP        string
	UserAgent string
}

type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (AuthResult, error) {
	email := normalizeEmail(input.Email)

	s.log.WithFields(ctx, logger.Fields{
		"email":  email,
		"action": "register_attempt",
	}).Info("register attempt")

	if err := validateEmail(email); err != nil {
		return AuthResult{}, err
	}

	if !IsStrong(input.Password) {
		s.log.WithFields(ctx, logger.Fields{
			"email":  email,
			"action": "register_weak_password",
		}).Warn("register failed: weak password")
		return AuthResult{}, ErrWeakPassword
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  email,
			"action": "register_hash_failed",
		}).Errorf("register failed: password hash error: %v", err)
		return AuthResult{}, err
	}

	id, err := s.idGenerator.NewID()
	if err != nil {
		return AuthResult{}, err
	}

	user := authdomain.User{
		ID:           authdomain.UserID(id),
		Email:        email,
		PasswordHash: hash,
		Role:         authdomain.RoleUser,
		CreatedAt:    s.clock.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, authrepo.ErrEmailAlreadyExists) {
			s.log.WithFields(ctx, logger.Fields{
				"email":  email,
				"action": "register_email_exists",
			}).Warn("register failed: email already registered")
			return AuthResult{}, ErrEmailTaken
		}
		s.log.WithFields(ctx, logger.Fields{
			"email":  email,
			"action": "register_create_failed",
		}).Errorf("register failed: %v", err)
		return AuthResult{}, mapStorageError(err)
	}

	result, err := s.engine.IssueInitialFamily(ctx, user, meta.IP, meta.UserAgent)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"email":   email,
		"user_id": string(user.ID),
		"action":  "register_success",
	}).Info("register success")

	return toAuthResult(result), nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput, meta RequestMeta) (AuthResult, error) {
	email := normalizeEmail(input.Email)

	s.log.WithFields(ctx, logger.Fields{
		"email":  email,
		"action": "login_attempt",
	}).Info("login attempt")

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, authrepo.ErrUserNotFound) {
			s.log.WithFields(ctx, logger.Fields{
				"email":  email,
				"action": "login_user_not_found",
			}).Warn("login failed: not found")
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, mapStorageError(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, input.Password); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"email":  email,
			"action": "login_invalid_password",
		}).Warn("login failed: invalid password")
		return AuthResult{}, ErrInvalidCredentials
	}

	result, err := s.engine.IssueInitialFamily(ctx, user, meta.IP, meta.UserAgent)
	if err != nil {
		return AuthResult{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"email":   email,
		"user_id": string(user.ID),
		"action":  "login_success",
	}).Info("login success")

	return toAuthResult(result), nil
}

// Rotate exchanges the presented refresh token for a fresh pair. All
// validity and theft decisions live in the rotation engine.
func (s *AuthService) Rotate(ctx context.Context, refreshToken string, meta RequestMeta) (AuthResult, error) {
	result, err := s.engine.Rotate(ctx, refreshToken, meta.IP, meta.UserAgent)
	if err != nil {
		return AuthResult{}, err
	}
	return toAuthResult(result), nil
}

// Logout revokes the family of the presented refresh token. A missing or
// unknown token is not an error; the session is gone either way.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	hash := HashRefreshToken(refreshToken)
	stored, err := s.tokens.FindByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
			return nil
		}
		return mapStorageError(err)
	}

	return s.engine.RevokeFamily(ctx, stored.FamilyID)
}

// ValidateAccess parses and verifies a bearer access token.
func (s *AuthService) ValidateAccess(tokenString string) (AccessClaims, error) {
	return s.codec.ParseAndVerify(tokenString)
}

// ChangePassword verifies the current password, applies the strength gate
// to the replacement, and revokes every active session of the user so stolen
// refresh tokens die with the old credential.
func (s *AuthService) ChangePassword(ctx context.Context, email, currentPassword, newPassword string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, authrepo.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return mapStorageError(err)
	}

	if err := s.hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "change_password_invalid_current",
		}).Warn("change password failed: invalid current password")
		return ErrInvalidCredentials
	}

	if !IsStrong(newPassword) {
		return ErrWeakPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return mapStorageError(err)
	}

	if err := s.engine.RevokeAllForUser(ctx, string(user.ID)); err != nil {
		return err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": string(user.ID),
		"action":  "password_changed",
	}).Info("password changed, all sessions revoked")
	return nil
}

func (s *AuthService) GetProfile(ctx context.Context, email string) (authdomain.User, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, authrepo.ErrUserNotFound) {
			return authdomain.User{}, ErrInvalidCredentials
		}
		return authdomain.User{}, mapStorageError(err)
	}
	return user, nil
}

func toAuthResult(result RotationResult) AuthResult {
	return AuthResult{
		AccessToken:      result.AccessToken,
		RefreshToken:     result.RefreshToken.RawToken,
		RefreshExpiresAt: result.RefreshToken.ExpiresAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" || len(email) > constants.EmailMaxLength {
		return ErrValidation
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrValidation
	}
	return nil
}
