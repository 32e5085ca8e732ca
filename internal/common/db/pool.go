package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/spendlog/backend/internal/common/constants"
	"github.com/spendlog/backend/internal/common/logger"
)

func NewPool(log *logger.Logger, databaseURL string) *pgxpool.Pool {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("failed to parse database url: %v", err)
	}

	cfg.MaxConns = constants.DBPoolMaxOpenConns
	cfg.MinConns = constants.DBPoolMinOpenConns
	cfg.MaxConnLifetime = constants.DBPoolConnMaxLifetime
	cfg.MaxConnIdleTime = constants.DBPoolConnMaxIdleTime
	cfg.HealthCheckPeriod = constants.DBPoolHealthCheck
	cfg.ConnConfig.ConnectTimeout = constants.DBPoolConnectTimeout
	cfg.ConnConfig.RuntimeParams = map[string]string{
		"application_name": "spendlog-auth",
	}

	for attempt := 1; attempt <= constants.DBPoolMaxAttempts; attempt++ {
		pool, err := pgxpool.ConnectConfig(context.Background(), cfg)
		if err == nil {
			log.Infof("database connection pool initialized: max=%d, min=%d", cfg.MaxConns, cfg.MinConns)
			StartPoolMetrics(pool, constants.DBPoolMetricsInterval)
			return pool
		}

		log.Warnf("failed to connect to database (attempt %d/%d): %v", attempt, constants.DBPoolMaxAttempts, err)

		if attempt == constants.DBPoolMaxAttempts {
			log.Fatalf("failed to connect to database after %d attempts: %v", constants.DBPoolMaxAttempts, err)
			return nil
		}

		time.Sleep(constants.DBPoolRetryDelay)
	}

	log.Fatalf("failed to connect to database after %d attempts", constants.DBPoolMaxAttempts)
	return nil
}
