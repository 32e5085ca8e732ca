package constants

import "time"

const (
	EmailMaxLength     = 254
	PasswordMinLength  = 8
	PasswordMaxLength  = 72
	JWTSecretMinLength = 32
	RefreshTokenSize   = 32

	DefaultMaxRequestSize = 1 << 20

	DBPoolMaxOpenConns    = 25
	DBPoolMinOpenConns    = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 30 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultAuthHTTPPort = "8081"

	DefaultAuthRequestTimeout = 5 * time.Second
	DefaultAccessTokenTTL     = 15 * time.Minute
	DefaultRefreshTokenTTL    = 7 * 24 * time.Hour

	// Rotation anomaly heuristics. Tunable via config, not invariants.
	DefaultRotationBurstLimit  = 5
	DefaultRotationBurstWindow = time.Minute
	DefaultMaxFamilyAgents     = 1

	SweepInterval = time.Hour

	RateLimitCleanupInterval = 10 * time.Minute

	RateLimitLoginRequestsPerSecond    = 1
	RateLimitLoginBurst                = 5
	RateLimitRegisterRequestsPerSecond = 0.5
	RateLimitRegisterBurst             = 3
	RateLimitRefreshRequestsPerSecond  = 2
	RateLimitRefreshBurst              = 5
	RateLimitLogoutRequestsPerSecond   = 1
	RateLimitLogoutBurst               = 5
	RateLimitGeneralRequestsPerSecond  = 10
	RateLimitGeneralBurst              = 20

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

// TraceIDKey is the context key shared by the trace middleware, the logger
// and the error handler.
const TraceIDKey TraceIDKeyType = "trace_id"
