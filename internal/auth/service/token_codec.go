package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spendlog/backend/internal/common/clock"
	"github.com/spendlog/backend/internal/common/config"
	"github.com/spendlog/backend/internal/common/logger"
	"github.com/spendlog/backend/internal/observability/metrics"
)

// Access token parse failures. Collapsed to a boolean at the IsValid
// boundary; the distinct kind is logged and counted.
var (
	ErrTokenMalformed        = errors.New("access token malformed")
	ErrTokenSignatureInvalid = errors.New("access token signature invalid")
	ErrTokenExpired          = errors.New("access token expired")
)

type AccessClaims struct {
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies self-contained access tokens. It holds only
// the immutable key, TTL and clock, so a single instance is shared across
// requests.
type TokenCodec struct {
	secret         []byte
	accessTokenTTL time.Duration
	clock          clock.Clock
	log            *logger.Logger
}

// NewTokenCodec fails when the signing key is shorter than 32 bytes. That is
// a fatal configuration error: the process should not come up with a weak key.
func NewTokenCodec(secret string, accessTokenTTL time.Duration, clk clock.Clock, log *logger.Logger) (*TokenCodec, error) {
	if err := config.ValidateJWTSecret(secret); err != nil {
		return nil, err
	}

	return &TokenCodec{
		secret:         []byte(secret),
		accessTokenTTL: accessTokenTTL,
		clock:          clk,
		log:            log,
	}, nil
}

func (c *TokenCodec) IssueAccessToken(subject, role string) (string, error) {
	now := c.clock.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(c.accessTokenTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := t.SignedString(c.secret)
	if err != nil {
		return "", err
	}

	metrics.AccessTokensIssued.Inc()
	return tokenString, nil
}

func (c *TokenCodec) ParseAndVerify(tokenString string) (AccessClaims, error) {
	parsed, err := jwt.Parse(
		tokenString,
		func(token *jwt.Token) (any, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, ErrTokenSignatureInvalid
			}
			return c.secret, nil
		},
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return AccessClaims{}, classifyParseError(err)
	}
	if !parsed.Valid {
		return AccessClaims{}, ErrTokenMalformed
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, ErrTokenMalformed
	}

	sub, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	if sub == "" || role == "" {
		return AccessClaims{}, ErrTokenMalformed
	}

	iat, _ := mapClaims["iat"].(float64)
	exp, _ := mapClaims["exp"].(float64)

	return AccessClaims{
		Subject:   sub,
		Role:      role,
		IssuedAt:  time.Unix(int64(iat), 0),
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// IsValid collapses all parse failures to false for request gating. The
// failure kind is still observable in logs and metrics.
func (c *TokenCodec) IsValid(tokenString string) bool {
	metrics.JWTValidationsTotal.Inc()

	_, err := c.ParseAndVerify(tokenString)
	if err == nil {
		return true
	}

	kind := parseFailureKind(err)
	metrics.JWTValidationsFailed.WithLabelValues(kind).Inc()
	c.log.WithFields(nil, logger.Fields{
		"action": "access_token_validation_failed",
		"kind":   kind,
	}).Warnf("access token validation failed: %v", err)
	return false
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrTokenSignatureInvalid):
		return ErrTokenSignatureInvalid
	default:
		return ErrTokenMalformed
	}
}

func parseFailureKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignatureInvalid):
		return "invalid_signature"
	default:
		return "malformed"
	}
}
