package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mentor-scoring-api/api/swagger"
	"github.com/noah-isme/mentor-scoring-api/internal/handler"
	"github.com/noah-isme/mentor-scoring-api/internal/middleware"
	"github.com/noah-isme/mentor-scoring-api/internal/models"
	"github.com/noah-isme/mentor-scoring-api/internal/repository"
	"github.com/noah-isme/mentor-scoring-api/internal/service"
	"github.com/noah-isme/mentor-scoring-api/pkg/cache"
	"github.com/noah-isme/mentor-scoring-api/pkg/config"
	"github.com/noah-isme/mentor-scoring-api/pkg/database"
	"github.com/noah-isme/mentor-scoring-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mentor-scoring-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mentor-scoring-api/pkg/middleware/requestid"
	"github.com/noah-isme/mentor-scoring-api/pkg/notify"
)

// @title Mentor Scoring API
// @version 1.0.0
// @description Composite scoring and ranking sessions for mentorship projects
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, published rankings stay node-local", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	hostname, _ := os.Hostname()
	broadcasterCfg := notify.Config{
		Channel: cfg.Notify.Channel,
		Source:  hostname,
		Redis:   redisClient,
		Logger:  logr,
	}
	natsConn, err := notify.ConnectNATS(cfg.Notify.NATSURL, "mentor-scoring-api", logr)
	if err != nil {
		logr.Warn("nats unavailable, publishing to redis only", zap.Error(err))
	}
	if natsConn != nil {
		broadcasterCfg.NATS = natsConn
		defer natsConn.Close()
	}
	broadcaster := notify.NewBroadcaster(broadcasterCfg)
	if redisClient != nil {
		err := broadcaster.SubscribeRedis(ctx, func(event notify.Event) {
			logr.Info("ranking published on another node", zap.String("type", event.Type), zap.String("source", event.Source))
		})
		if err != nil {
			logr.Warn("ranking subscription failed", zap.Error(err))
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	dispatcher := service.NewPublicationDispatcher(broadcaster, metrics, service.DispatcherConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.Retries,
		RetryDelay: cfg.Notify.RetryDelay,
	}, logr)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	scoreRepo := repository.NewScoreRepository(db, metrics)
	stageRepo, err := repository.NewStageRepository(db, metrics, logr)
	if err != nil {
		logr.Fatal("failed to build stage repository", zap.Error(err))
	}

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Scoring.CacheTTL, logr, cfg.Scoring.CacheEnabled)

	scoringSvc := service.NewScoringService(scoreRepo, stageRepo, dispatcher, cacheSvc, metrics, validate, service.ScoringConfig{
		DefaultMode:     models.ScoringMode(cfg.Scoring.DefaultMode),
		StrictWeights:   cfg.Scoring.StrictWeights,
		ProviderTimeout: cfg.Scoring.ProviderTimeout,
		PublishedTTL:    cfg.Scoring.CacheTTL,
	}, logr)
	exportSvc := service.NewExportService(scoringSvc, cacheSvc, validate, logr, nil, nil)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	metricsHandler := handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient))
	scoringHandler := handler.NewScoringHandler(scoringSvc, exportSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix, middleware.JWT(tokenSvc))
	scoringHandler.RegisterRoutes(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logr.Error("server failed", zap.Error(err))
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("could not stop server gracefully", zap.Error(err))
		_ = server.Close()
	}
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
