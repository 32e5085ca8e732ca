package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	authdomain "github.com/spendlog/backend/internal/auth/domain"
	authrepo "github.com/spendlog/backend/internal/auth/repository"
	"github.com/spendlog/backend/internal/common/clock"
	"github.com/spendlog/backend/internal/common/constants"
	commoncrypto "github.com/spendlog/backend/internal/common/crypto"
	"github.com/spendlog/backend/internal/common/logger"
	"github.com/spendlog/backend/internal/observability/metrics"
)

// UserFinder is the narrow slice of the user store the engine needs to mint
// an access token for a rotated session.
type UserFinder interface {
	FindByID(ctx context.Context, id authdomain.UserID) (authdomain.User, error)
}

type RotationConfig struct {
	RefreshTokenTTL time.Duration
	BurstLimit      int
	BurstWindow     time.Duration
	MaxFamilyAgents int
}

type RotationResult struct {
	AccessToken  string
	RefreshToken authdomain.RefreshToken
}

// RotationEngine decides the fate of presented refresh tokens: normal
// rotation, benign rejection, or family-wide revocation on a theft signal.
// All decisions about one token hash run inside a single store transaction.
type RotationEngine struct {
	tokens      authrepo.RefreshTokenRepository
	users       UserFinder
	codec       *TokenCodec
	idGenerator commoncrypto.IDGenerator
	clock       clock.Clock
	cfg         RotationConfig
	log         *logger.Logger
}

func NewRotationEngine(
	tokens authrepo.RefreshTokenRepository,
	users UserFinder,
	codec *TokenCodec,
	idGenerator commoncrypto.IDGenerator,
	clk clock.Clock,
	cfg RotationConfig,
	log *logger.Logger,
) *RotationEngine {
	return &RotationEngine{
		tokens:      tokens,
		users:       users,
		codec:       codec,
		idGenerator: idGenerator,
		clock:       clk,
		cfg:         cfg,
		log:         log,
	}
}

// Rotate exchanges a valid refresh token for a successor in the same family
// plus a fresh access token. Replay of a consumed token, a family spanning
// multiple user agents, or a rotation burst all revoke the whole family;
// the revocation is committed before the error is returned, so a caller
// retry cannot skip it.
func (e *RotationEngine) Rotate(ctx context.Context, presentedToken, requestIP, requestUserAgent string) (RotationResult, error) {
	if presentedToken == "" {
		return RotationResult{}, ErrInvalidRefreshToken
	}

	hash := HashRefreshToken(presentedToken)
	now := e.clock.Now()

	var (
		outcome   error
		stored    authdomain.RefreshToken
		successor authdomain.RefreshToken
	)

	// The closure returns an error only for storage failures (rollback).
	// Decision outcomes that must commit, theft revocations included, are
	// recorded in outcome and the closure returns nil.
	err := e.tokens.TxManager().WithTx(ctx, func(ctx context.Context, tx authrepo.RefreshTokenTx) error {
		var err error
		stored, err = tx.FindByTokenHashForUpdate(ctx, hash)
		if err != nil {
			if errors.Is(err, authrepo.ErrRefreshTokenNotFound) {
				outcome = ErrInvalidRefreshToken
				return nil
			}
			return err
		}

		if stored.IsUsed {
			// Replay of a consumed token: an active attack, not a stale
			// client. Every descendant session dies with the family.
			if err := tx.RevokeFamily(ctx, stored.FamilyID); err != nil {
				return err
			}
			outcome = ErrTokenReuseDetected
			return nil
		}

		if stored.IsRevoked {
			outcome = ErrInvalidRefreshToken
			return nil
		}

		if stored.IsExpiredAt(now) {
			metrics.RefreshTokensExpired.Inc()
			outcome = ErrInvalidRefreshToken
			return nil
		}

		agents, err := tx.CountDistinctAgentsInFamily(ctx, stored.FamilyID)
		if err != nil {
			return err
		}
		if agents > e.cfg.MaxFamilyAgents {
			if err := tx.RevokeFamily(ctx, stored.FamilyID); err != nil {
				return err
			}
			outcome = ErrSuspiciousFamilyActivity
			return nil
		}

		recent, err := tx.CountRecentInFamily(ctx, stored.FamilyID, now.Add(-e.cfg.BurstWindow))
		if err != nil {
			return err
		}
		if recent >= e.cfg.BurstLimit {
			if err := tx.RevokeFamily(ctx, stored.FamilyID); err != nil {
				return err
			}
			outcome = ErrRotationRateExceeded
			return nil
		}

		if err := tx.MarkUsed(ctx, stored.ID, now); err != nil {
			return err
		}

		successor, err = e.newFamilyMember(stored.UserID, stored.FamilyID, now, requestIP, requestUserAgent)
		if err != nil {
			return err
		}

		raw := successor.RawToken
		successor.RawToken = ""
		if err := tx.Create(ctx, successor); err != nil {
			return err
		}
		successor.RawToken = raw
		return nil
	})
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"action": "rotate_storage_failed",
		}).Errorf("rotation failed: %v", err)
		return RotationResult{}, mapStorageError(err)
	}

	if outcome != nil {
		e.recordRotationOutcome(ctx, stored, outcome)
		return RotationResult{}, outcome
	}

	user, err := e.users.FindByID(ctx, authdomain.UserID(stored.UserID))
	if err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"user_id": stored.UserID,
			"action":  "rotate_user_lookup_failed",
		}).Errorf("rotation failed: user lookup error: %v", err)
		return RotationResult{}, mapStorageError(err)
	}

	accessToken, err := e.codec.IssueAccessToken(user.Email, user.Role)
	if err != nil {
		return RotationResult{}, err
	}

	metrics.RefreshTokensRotated.Inc()
	e.log.WithFields(ctx, logger.Fields{
		"user_id":   stored.UserID,
		"family_id": stored.FamilyID,
		"action":    "rotation_success",
	}).Info("refresh token rotated")

	return RotationResult{
		AccessToken:  accessToken,
		RefreshToken: successor,
	}, nil
}

// IssueInitialFamily starts a new session lineage at login or registration.
func (e *RotationEngine) IssueInitialFamily(ctx context.Context, user authdomain.User, requestIP, requestUserAgent string) (RotationResult, error) {
	familyID, err := e.idGenerator.NewID()
	if err != nil {
		return RotationResult{}, err
	}

	now := e.clock.Now()
	token, err := e.newFamilyMember(string(user.ID), familyID, now, requestIP, requestUserAgent)
	if err != nil {
		return RotationResult{}, err
	}

	raw := token.RawToken
	token.RawToken = ""
	if err := e.tokens.Create(ctx, token); err != nil {
		return RotationResult{}, mapStorageError(err)
	}
	token.RawToken = raw

	accessToken, err := e.codec.IssueAccessToken(user.Email, user.Role)
	if err != nil {
		return RotationResult{}, err
	}

	metrics.RefreshFamiliesIssued.Inc()
	metrics.RefreshTokensIssued.Inc()
	e.log.WithFields(ctx, logger.Fields{
		"user_id":   string(user.ID),
		"family_id": familyID,
		"action":    "family_issued",
	}).Info("new refresh token family issued")

	return RotationResult{
		AccessToken:  accessToken,
		RefreshToken: token,
	}, nil
}

// RevokeFamily is the explicit logout/administrative path.
func (e *RotationEngine) RevokeFamily(ctx context.Context, familyID string) error {
	if err := e.tokens.RevokeFamily(ctx, familyID); err != nil {
		e.log.WithFields(ctx, logger.Fields{
			"family_id": familyID,
			"action":    "revoke_family_failed",
		}).Errorf("failed to revoke family: %v", err)
		return mapStorageError(err)
	}

	metrics.RefreshFamiliesRevoked.WithLabelValues("logout").Inc()
	e.log.WithFields(ctx, logger.Fields{
		"family_id": familyID,
		"action":    "family_revoked",
	}).Info("refresh token family revoked")
	return nil
}

// RevokeAllForUser kills every active session lineage of one user, e.g.
// after a password change.
func (e *RotationEngine) RevokeAllForUser(ctx context.Context, userID string) error {
	active, err := e.tokens.FindValidByUserID(ctx, userID, e.clock.Now())
	if err != nil {
		return mapStorageError(err)
	}

	seen := make(map[string]bool, len(active))
	for _, token := range active {
		if seen[token.FamilyID] {
			continue
		}
		seen[token.FamilyID] = true
		if err := e.RevokeFamily(ctx, token.FamilyID); err != nil {
			return err
		}
	}
	return nil
}

// Sweep deletes records already past expiry. Storage reclamation only; used
// and revoked flags do not matter here.
func (e *RotationEngine) Sweep(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := e.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return 0, mapStorageError(err)
	}
	if deleted > 0 {
		metrics.RefreshTokensSweepDeleted.Add(float64(deleted))
	}
	return deleted, nil
}

func (e *RotationEngine) newFamilyMember(userID, familyID string, now time.Time, requestIP, requestUserAgent string) (authdomain.RefreshToken, error) {
	rawToken, err := GenerateRefreshToken()
	if err != nil {
		return authdomain.RefreshToken{}, err
	}

	id, err := e.idGenerator.NewID()
	if err != nil {
		return authdomain.RefreshToken{}, err
	}

	return authdomain.RefreshToken{
		ID:        id,
		TokenHash: HashRefreshToken(rawToken),
		UserID:    userID,
		FamilyID:  familyID,
		ExpiresAt: now.Add(e.cfg.RefreshTokenTTL),
		CreatedAt: now,
		IPAddress: requestIP,
		UserAgent: requestUserAgent,
		RawToken:  rawToken,
	}, nil
}

func (e *RotationEngine) recordRotationOutcome(ctx context.Context, stored authdomain.RefreshToken, outcome error) {
	fields := logger.Fields{
		"action": "rotation_rejected",
	}
	if stored.UserID != "" {
		fields["user_id"] = stored.UserID
		fields["family_id"] = stored.FamilyID
	}

	switch {
	case errors.Is(outcome, ErrTokenReuseDetected):
		metrics.TheftSignalsDetected.WithLabelValues("reuse").Inc()
		metrics.RefreshFamiliesRevoked.WithLabelValues("reuse").Inc()
		e.log.WithFields(ctx, fields).Warn("refresh token reuse detected, family revoked")
	case errors.Is(outcome, ErrSuspiciousFamilyActivity):
		metrics.TheftSignalsDetected.WithLabelValues("multi_agent").Inc()
		metrics.RefreshFamiliesRevoked.WithLabelValues("multi_agent").Inc()
		e.log.WithFields(ctx, fields).Warn("multiple user agents in family, family revoked")
	case errors.Is(outcome, ErrRotationRateExceeded):
		metrics.TheftSignalsDetected.WithLabelValues("burst").Inc()
		metrics.RefreshFamiliesRevoked.WithLabelValues("burst").Inc()
		e.log.WithFields(ctx, fields).Warn("rotation burst threshold exceeded, family revoked")
	default:
		e.log.WithFields(ctx, fields).Warn("refresh token rejected")
	}
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, constants.RefreshTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
