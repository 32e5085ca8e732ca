package commonerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "VALIDATION"
	CategoryAuth         ErrorCategory = "AUTH"
	CategoryNotFound     ErrorCategory = "NOT_FOUND"
	CategoryConflict     ErrorCategory = "CONFLICT"
	CategoryUnauthorized ErrorCategory = "UNAUTHORIZED"
	CategoryInternal     ErrorCategory = "INTERNAL"
	CategoryExternal     ErrorCategory = "EXTERNAL"
)

type DomainError interface {
	error
	Code() string
	Category() ErrorCategory
	HTTPStatus() int
	Message() string
	Unwrap() error
	WithCause(cause error) DomainError
}

type domainError struct {
	code     string
	category ErrorCategory
	status   int
	message  string
	cause    error
}

func (e *domainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *domainError) Code() string {
	return e.code
}

func (e *domainError) Category() ErrorCategory {
	return e.category
}

func (e *domainError) HTTPStatus() int {
	return e.status
}

func (e *domainError) Message() string {
	return e.message
}

func (e *domainError) Unwrap() error {
	return e.cause
}

func (e *domainError) WithCause(cause error) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  e.message,
		cause:    cause,
	}
}

// Is lets errors.Is match a sentinel DomainError against a copy carrying a
// cause, so `errors.Is(err, ErrX)` holds for `ErrX.WithCause(...)`.
func (e *domainError) Is(target error) bool {
	t, ok := target.(*domainError)
	if !ok {
		return false
	}
	return e.code == t.code
}

func NewDomainError(code string, category ErrorCategory, status int, message string) DomainError {
	return &domainError{
		code:     code,
		category: category,
		status:   status,
		message:  message,
	}
}

func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	ErrMissingRequiredEnv = NewDomainError(
		"MISSING_REQUIRED_ENV",
		CategoryValidation,
		http.StatusInternalServerError,
		"missing required environment variable",
	)

	ErrWeakSigningKey = NewDomainError(
		"WEAK_SIGNING_KEY",
		CategoryValidation,
		http.StatusInternalServerError,
		"JWT_SECRET must be at least 32 bytes",
	)

	ErrEmailAlreadyExists = NewDomainError(
		"EMAIL_ALREADY_EXISTS",
		CategoryConflict,
		http.StatusConflict,
		"email already registered",
	)

	ErrUserNotFound = NewDomainError(
		"USER_NOT_FOUND",
		CategoryNotFound,
		http.StatusNotFound,
		"user not found",
	)

	ErrInvalidToken = NewDomainError(
		"INVALID_TOKEN",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is not valid",
	)

	ErrDatabaseError = NewDomainError(
		"DATABASE_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"database operation failed",
	)

	ErrStorageUnavailable = NewDomainError(
		"STORAGE_UNAVAILABLE",
		CategoryExternal,
		http.StatusServiceUnavailable,
		"storage temporarily unavailable",
	)

	ErrInternalError = NewDomainError(
		"INTERNAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"internal server error",
	)
)
