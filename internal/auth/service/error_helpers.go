package service

import (
	"errors"

	"github.com/spendlog/backend/internal/common/db"
	commonerrors "github.com/spendlog/backend/internal/common/errors"
)

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// mapStorageError separates connectivity-class store failures, which callers
// may retry, from everything else, which is surfaced as an internal failure.
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if commonerrors.IsDomainError(err) {
		return err
	}
	if db.IsTransient(err) {
		return commonerrors.ErrStorageUnavailable.WithCause(err)
	}
	return commonerrors.ErrDatabaseError.WithCause(err)
}
