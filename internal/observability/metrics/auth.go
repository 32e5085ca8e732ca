package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_requests_total",
			Help: "Total number of auth requests",
		},
		[]string{"app", "method", "path"},
	)

	AuthRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_requests_in_flight",
			Help: "Number of auth requests currently being processed",
		},
	)

	AuthRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_request_duration_seconds",
			Help:    "Duration of auth requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)

	RefreshTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_issued_total",
			Help: "Total number of refresh tokens issued",
		},
	)

	RefreshTokensRotated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_rotated_total",
			Help: "Total number of successful refresh token rotations",
		},
	)

	RefreshTokensExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_expired_total",
			Help: "Total number of refresh tokens rejected as expired",
		},
	)

	RefreshFamiliesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_families_issued_total",
			Help: "Total number of new refresh token families created",
		},
	)

	RefreshFamiliesRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_families_revoked_total",
			Help: "Total number of refresh token families revoked, by reason",
		},
		[]string{"reason"},
	)

	TheftSignalsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_theft_signals_total",
			Help: "Total number of theft signals detected during rotation, by kind",
		},
		[]string{"kind"},
	)

	RefreshTokensSweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_tokens_sweep_deleted_total",
			Help: "Total number of expired refresh tokens deleted by the sweep",
		},
	)

	AccessTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_tokens_issued_total",
			Help: "Total number of access tokens issued",
		},
	)

	JWTValidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jwt_validations_total",
			Help: "Total number of JWT validations",
		},
	)

	JWTValidationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jwt_validations_failed_total",
			Help: "Total number of failed JWT validations, by failure kind",
		},
		[]string{"kind"},
	)
)
