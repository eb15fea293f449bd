// Package main runs the enrollment retry worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursehub/backend/config"
	"github.com/coursehub/backend/internal/catalog"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/gateway"
	"github.com/coursehub/backend/internal/payments"
	"github.com/coursehub/backend/internal/vouchers"
	"github.com/coursehub/backend/internal/worker"
	"github.com/coursehub/backend/pkg/database"
	"github.com/coursehub/backend/pkg/queue"
	"github.com/coursehub/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxConns: 4,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	catalogRepo := catalog.NewRepository(pool)
	enrollmentSvc := enrollments.NewService(catalogRepo, enrollments.NewRepository(pool), logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	gw := gateway.NewClient(gateway.Config{
		TmnCode:    cfg.Gateway.TmnCode,
		HashSecret: cfg.Gateway.HashSecret,
		TimeZone:   cfg.Gateway.TimeZone,
	}, logger)
	paymentSvc := payments.NewService(payments.NewRepository(pool), catalogRepo,
		vouchers.NewService(vouchers.NewRepository(pool), logger), gw, enrollmentSvc,
		payments.Options{MinAmount: cfg.Gateway.MinAmount, Queue: jobQueue, Logger: logger})

	processor := worker.NewEnrollmentProcessor(paymentSvc, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
