package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smnthegr/calamansi-detection/internal/auth"
	"github.com/smnthegr/calamansi-detection/internal/config"
	"github.com/smnthegr/calamansi-detection/internal/detection"
	"github.com/smnthegr/calamansi-detection/internal/handlers"
	"github.com/smnthegr/calamansi-detection/internal/imaging"
	"github.com/smnthegr/calamansi-detection/internal/ledger"
	"github.com/smnthegr/calamansi-detection/internal/logging"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)

	store := ledger.NewStore(db, ledger.NewRedisKV(redisClient), logger)
	if err := store.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	breaker := detection.NewCircuitBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown)
	gate := detection.NewGate(cfg.MaxConcurrent, cfg.DailyCallBudget, store, logger)
	client := detection.NewClient(cfg.InferenceTimeout, logger)
	orchestrator := detection.NewOrchestrator(
		client,
		breaker,
		detection.Endpoint{URL: cfg.PrimaryEndpoint.URL, APIKey: cfg.PrimaryEndpoint.APIKey},
		detection.Endpoint{URL: cfg.SecondaryEndpoint.URL, APIKey: cfg.SecondaryEndpoint.APIKey},
		logger,
	)
	engine := detection.Engine{
		PrimaryThreshold:   cfg.PrimaryThreshold,
		SecondaryThreshold: cfg.SecondaryThreshold,
		NegativeThreshold:  cfg.NegativeConfidence,
		NegativeLabels:     cfg.NegativeClassLabels,
	}
	pipeline := detection.NewPipeline(gate, orchestrator, engine, store, imaging.NewResizer(logger), detection.PipelineOptions{
		MaxImageDimension: cfg.MaxImageDimension,
		Window:            time.Duration(cfg.WindowSeconds) * time.Second,
		WindowMaxRequests: cfg.WindowMaxRequests,
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	var authMiddleware gin.HandlerFunc
	if cfg.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}

	handlers.RegisterRoutes(r, handlers.Deps{
		Detector:    pipeline,
		Store:       store,
		Breaker:     breaker,
		Gate:        gate,
		Auth:        authMiddleware,
		DailyBudget: cfg.DailyCallBudget,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("calamansi detection API listening", zap.String("addr", cfg.ListenAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
