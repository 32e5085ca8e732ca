package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	authcleanup "github.com/spendlog/backend/internal/auth/cleanup"
	authhttp "github.com/spendlog/backend/internal/auth/http"
	authrepo "github.com/spendlog/backend/internal/auth/repository"
	"github.com/spendlog/backend/internal/auth/service"
	"github.com/spendlog/backend/internal/common/clock"
	"github.com/spendlog/backend/internal/common/config"
	"github.com/spendlog/backend/internal/common/constants"
	commoncrypto "github.com/spendlog/backend/internal/common/crypto"
	"github.com/spendlog/backend/internal/common/db"
	commonhttp "github.com/spendlog/backend/internal/common/http"
	"github.com/spendlog/backend/internal/common/jwtverify"
	"github.com/spendlog/backend/internal/common/logger"
	srv "github.com/spendlog/backend/internal/common/server"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), "auth", os.Getenv("LOG_LEVEL"))
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("failed to initialize logger: %v\n", err))
		os.Exit(1)
	}

	cfg, err := config.LoadAuthConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := db.RunMigrations(context.Background(), cfg.DatabaseURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool := db.NewPool(log, cfg.DatabaseURL)
	defer pool.Close()
	db.StartPoolMetrics(pool, constants.DBPoolMetricsInterval)

	clk := clock.NewRealClock()
	userRepo := authrepo.NewPgUserRepository(pool)
	refreshTokenRepo := authrepo.NewPgRefreshTokenRepository(pool)
	hasher := &commoncrypto.BcryptHasher{}
	idGenerator := &commoncrypto.UUIDGenerator{}

	codec, err := service.NewTokenCodec(cfg.JWTSecret, cfg.AccessTokenTTL, clk, log)
	if err != nil {
		log.Fatalf("failed to initialize token codec: %v", err)
	}

	engine := service.NewRotationEngine(
		refreshTokenRepo,
		userRepo,
		codec,
		idGenerator,
		clk,
		service.RotationConfig{
			RefreshTokenTTL: cfg.RefreshTokenTTL,
			BurstLimit:      cfg.RotationBurstLimit,
			BurstWindow:     cfg.RotationBurstWindow,
			MaxFamilyAgents: cfg.MaxFamilyAgents,
		},
		log,
	)

	authService := service.NewAuthService(
		userRepo,
		refreshTokenRepo,
		engine,
		codec,
		hasher,
		idGenerator,
		clk,
		log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go authcleanup.StartRefreshTokenSweep(ctx, engine, clk, log)

	verify := func(tokenString string) (jwtverify.Claims, error) {
		claims, err := codec.ParseAndVerify(tokenString)
		if err != nil {
			return jwtverify.Claims{}, err
		}
		return jwtverify.Claims{Subject: claims.Subject, Role: claims.Role}, nil
	}

	handler := authhttp.NewHandler(authService, cfg.RequestTimeout, verify, log)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	rateLimiter := commonhttp.NewStrictRateLimiter()
	baseHandler := commonhttp.BuildBaseHandler("auth", log, mux)

	rateLimitMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			rateLimiter.MiddlewareForPath(path)(next).ServeHTTP(w, r)
		})
	}

	finalHandler := rateLimitMiddleware(baseHandler)

	serverConfig := srv.DefaultServerConfig(cfg.HTTPPort)
	server := srv.NewServer(serverConfig, finalHandler)

	shutdownHooks := []srv.ShutdownHook{
		func(ctx context.Context) error {
			log.Infof("auth service: stopping background goroutines")
			cancel()
			return nil
		},
	}

	srv.StartWithGracefulShutdownAndHooks(server, log, "auth", shutdownHooks)
}
