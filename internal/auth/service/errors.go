package service

import (
	"net/http"

	commonerrors "github.com/spendlog/backend/internal/common/errors"
)

var (
	ErrInvalidCredentials = commonerrors.NewDomainError(
		"INVALID_CREDENTIALS",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid email or password",
	)

	ErrEmailTaken = commonerrors.NewDomainError(
		"EMAIL_TAKEN",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"email already registered",
	)

	ErrWeakPassword = commonerrors.NewDomainError(
		"WEAK_PASSWORD",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"password does not meet strength requirements",
	)

	ErrValidation = commonerrors.NewDomainError(
		"VALIDATION_FAILED",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"validation failed",
	)

	// Benign rotation failure: unknown, expired or already-revoked token.
	// The caller should re-authenticate.
	ErrInvalidRefreshToken = commonerrors.NewDomainError(
		"INVALID_REFRESH_TOKEN",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid refresh token",
	)

	// Theft signals. The family is revoked before any of these surface.
	ErrTokenReuseDetected = commonerrors.NewDomainError(
		"TOKEN_REUSE_DETECTED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"refresh token reuse detected",
	)

	ErrSuspiciousFamilyActivity = commonerrors.NewDomainError(
		"SUSPICIOUS_FAMILY_ACTIVITY",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"suspicious activity detected for token family",
	)

	ErrRotationRateExceeded = commonerrors.NewDomainError(
		"ROTATION_RATE_EXCEEDED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"refresh token rotation rate exceeded",
	)
)

// IsTheftSignal reports whether err is one of the rotation failures that
// revoked the presented token's family as a side effect.
func IsTheftSignal(err error) bool {
	return errorsIsAny(err,
		ErrTokenReuseDetected,
		ErrSuspiciousFamilyActivity,
		ErrRotationRateExceeded,
	)
}
