package main

import (
	"context"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/medianest/backend/api/handler"
	"github.com/medianest/backend/internal/config"
	"github.com/medianest/backend/internal/infrastructure/monitor"
	pgInfra "github.com/medianest/backend/internal/infrastructure/postgres"
	redisInfra "github.com/medianest/backend/internal/infrastructure/redis"
	"github.com/medianest/backend/internal/infrastructure/spool"
	"github.com/medianest/backend/internal/metrics"
	"github.com/medianest/backend/internal/middleware"
	"github.com/medianest/backend/internal/router"
	"github.com/medianest/backend/internal/services"
	"github.com/medianest/backend/internal/services/lifecycle"
	"github.com/medianest/backend/pkg/httpcontext"
	"github.com/medianest/backend/pkg/logger"
	"github.com/medianest/backend/pkg/resilience"
	"github.com/medianest/backend/repository/postgres"
	redisRepo "github.com/medianest/backend/repository/redis"
	authUC "github.com/medianest/backend/usecase/auth"
	"github.com/medianest/backend/usecase/guard"
	"github.com/medianest/backend/usecase/ratelimit"
	"github.com/medianest/backend/usecase/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Name:     cfg.AppName,
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.Auth.JWTSecret == "" || cfg.Auth.FingerprintSecret == "" {
		zapLogger.Fatal("JWT_SECRET and FINGERPRINT_SECRET must be set")
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
		zapLogger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("postgres connection failed", zap.Error(err))
	}
	manager.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	redisClient, err := redisInfra.NewClient(cfg.Redis)
	if err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	manager.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})

	spoolStore, err := spool.Open(cfg.Audit.SpoolPath, "audit")
	if err != nil {
		zapLogger.Fatal("failed to open audit spool", zap.Error(err))
	}
	manager.Register("audit_spool", func(ctx context.Context) error {
		return spoolStore.Close()
	})

	mon := monitor.New(pool, redisClient, spoolStore, 10*time.Second, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	audit := services.NewAuditService(spoolStore, services.NewZapSink(zapLogger), zapLogger, services.AuditConfig{
		QueueSize:  cfg.Audit.QueueSize,
		Interval:   cfg.Audit.DrainInterval,
		BatchSize:  cfg.Audit.BatchSize,
		MaxRetries: cfg.Audit.MaxRetries,
	})
	audit.Start()
	manager.Register("audit", func(ctx context.Context) error {
		audit.Stop(ctx)
		return nil
	})

	userRepo := postgres.NewUserRepository(pool)
	revocationRepo := redisRepo.NewRevocationRegistry(redisClient, cfg.Auth.RevocationMaxTTL)
	decisionRepo := redisRepo.NewDecisionCache(redisClient, cfg.Auth.CacheTTL)
	rateRepo := redisRepo.NewRateCounterStore(redisClient)

	validator := token.New(
		[]byte(cfg.Auth.JWTSecret),
		[]byte(cfg.Auth.FingerprintSecret),
		cfg.Auth.Issuer,
		revocationRepo,
		zapLogger,
	)

	limiter := ratelimit.New(rateRepo, map[string]ratelimit.Policy{
		ratelimit.ClassGeneral:      {Limit: cfg.RateLimit.GeneralLimit, Window: cfg.RateLimit.GeneralWindow},
		ratelimit.ClassLogin:        {Limit: cfg.RateLimit.LoginLimit, Window: cfg.RateLimit.LoginWindow},
		ratelimit.ClassMediaRequest: {Limit: cfg.RateLimit.MediaRequestLimit, Window: cfg.RateLimit.MediaRequestWindow},
	}, zapLogger)

	revocationCall := resilience.NewCaller(resilience.Config{
		Name:         "revocation_registry",
		Policy:       resilience.FailClosed,
		CallTimeout:  cfg.Breaker.CallTimeout,
		OpenTimeout:  cfg.Breaker.OpenTimeout,
		MinRequests:  uint32(cfg.Breaker.MinRequests),
		FailureRatio: cfg.Breaker.FailureRatio,
	}, zapLogger, metrics.ObserveBreaker)
	cacheCall := resilience.NewCaller(resilience.Config{
		Name:         "decision_cache",
		Policy:       resilience.FailOpen,
		CallTimeout:  cfg.Breaker.CallTimeout,
		OpenTimeout:  cfg.Breaker.OpenTimeout,
		MinRequests:  uint32(cfg.Breaker.MinRequests),
		FailureRatio: cfg.Breaker.FailureRatio,
	}, zapLogger, metrics.ObserveBreaker)

	requestGuard := guard.New(guard.Config{
		Tokens:         validator,
		Revocations:    revocationRepo,
		Cache:          decisionRepo,
		Users:          userRepo,
		Limiter:        limiter,
		RevocationCall: revocationCall,
		CacheCall:      cacheCall,
		Events:         audit,
		CacheTTL:       cfg.Auth.CacheTTL,
	}, zapLogger)

	authUseCase := authUC.New(
		userRepo,
		decisionRepo,
		revocationRepo,
		validator,
		limiter,
		audit,
		cfg.Auth.AccessTTL,
		cfg.Auth.RefreshTTL,
		zapLogger,
	)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Auth:   apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger),
		Media:  apiHandler.NewMediaHandler(ctxAdapter, zapLogger),
		Health: apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}

	mw := router.Middleware{
		General:      middleware.Guard(requestGuard, ctxAdapter, ratelimit.ClassGeneral, zapLogger),
		MediaRequest: middleware.Guard(requestGuard, ctxAdapter, ratelimit.ClassMediaRequest, zapLogger),
	}
	r := router.New(handlers, mw, cfg.HTTP.EnableMetrics)

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.Shutdown()
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}
