package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"

	"github.com/spendlog/backend/internal/observability/metrics"
)

func extractTableFromOperation(operation string) string {
	operation = strings.ToLower(operation)
	if strings.Contains(operation, "user") {
		return "users"
	}
	if strings.Contains(operation, "refresh") || strings.Contains(operation, "token") || strings.Contains(operation, "family") {
		return "refresh_tokens"
	}
	return "unknown"
}

// IsTransient reports whether err is a connectivity or serialization class
// failure worth surfacing to callers as retryable, as opposed to an
// authentication-semantic failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "08000", "08003", "08006", "08001", "08004", "08007", "08P01":
			return true
		case "40001", "40P01":
			return true
		case "55P03":
			return true
		}
	}

	return false
}

func HandleQueryError(err error, notFoundErr error, operation string, startTime time.Time) error {
	table := extractTableFromOperation(operation)
	duration := time.Since(startTime).Seconds()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation, table).Observe(duration)

	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundErr
	}
	errorType := fmt.Sprintf("%T", err)
	metrics.DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func HandleExecError(err error, operation string, startTime time.Time) error {
	table := extractTableFromOperation(operation)
	duration := time.Since(startTime).Seconds()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation, table).Observe(duration)

	if err == nil {
		return nil
	}
	errorType := fmt.Sprintf("%T", err)
	metrics.DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func MeasureQueryDuration(operation string, startTime time.Time) {
	table := extractTableFromOperation(operation)
	duration := time.Since(startTime).Seconds()
	metrics.DBQueryDurationSeconds.WithLabelValues(operation, table).Observe(duration)
}
