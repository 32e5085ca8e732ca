package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spendlog/backend/internal/common/constants"
	commonerrors "github.com/spendlog/backend/internal/common/errors"
)

type AuthConfig struct {
	HTTPPort            string
	DatabaseURL         string
	JWTSecret           string
	RequestTimeout      time.Duration
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	RotationBurstLimit  int
	RotationBurstWindow time.Duration
	MaxFamilyAgents     int
}

func LoadAuthConfig() (AuthConfig, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}

	if err := ValidateJWTSecret(jwtSecret); err != nil {
		return AuthConfig{}, err
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		HTTPPort:            getEnv("AUTH_HTTP_PORT", constants.DefaultAuthHTTPPort),
		DatabaseURL:         databaseURL,
		JWTSecret:           jwtSecret,
		RequestTimeout:      getDurationEnv("AUTH_REQUEST_TIMEOUT", constants.DefaultAuthRequestTimeout),
		AccessTokenTTL:      getDurationEnv("AUTH_ACCESS_TOKEN_TTL", constants.DefaultAccessTokenTTL),
		RefreshTokenTTL:     getDurationEnv("AUTH_REFRESH_TOKEN_TTL", constants.DefaultRefreshTokenTTL),
		RotationBurstLimit:  getIntEnv("AUTH_ROTATION_BURST_LIMIT", constants.DefaultRotationBurstLimit),
		RotationBurstWindow: getDurationEnv("AUTH_ROTATION_BURST_WINDOW", constants.DefaultRotationBurstWindow),
		MaxFamilyAgents:     getIntEnv("AUTH_MAX_FAMILY_AGENTS", constants.DefaultMaxFamilyAgents),
	}, nil
}

func ValidateJWTSecret(secret string) error {
	if len(secret) < constants.JWTSecretMinLength {
		return commonerrors.ErrWeakSigningKey.WithCause(
			fmt.Errorf("got %d bytes, need %d", len(secret), constants.JWTSecretMinLength),
		)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", commonerrors.ErrMissingRequiredEnv.WithCause(fmt.Errorf("%s is not set", key))
	}
	return v, nil
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
