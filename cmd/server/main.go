// Package main runs the course payment HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursehub/backend/config"
	"github.com/coursehub/backend/internal/auth"
	"github.com/coursehub/backend/internal/catalog"
	"github.com/coursehub/backend/internal/enrollments"
	"github.com/coursehub/backend/internal/gateway"
	"github.com/coursehub/backend/internal/middleware"
	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/internal/payments"
	"github.com/coursehub/backend/internal/vouchers"
	"github.com/coursehub/backend/internal/worker"
	"github.com/coursehub/backend/pkg/database"
	"github.com/coursehub/backend/pkg/queue"
	"github.com/coursehub/backend/pkg/redis"
	"github.com/coursehub/backend/pkg/response"
	"github.com/coursehub/backend/pkg/storage"
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
		MaxConns:        int32(cfg.Database.MaxConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archiver payments.Archiver
	if cfg.AWS.AuditBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			AuditBucket:     cfg.AWS.AuditBucket,
		}, logger)
		if err != nil {
			logger.Warn("callback archive disabled", zap.Error(err))
		} else {
			archiver = s3Client
		}
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	gw := gateway.NewClient(gateway.Config{
		TmnCode:       cfg.Gateway.TmnCode,
		HashSecret:    cfg.Gateway.HashSecret,
		PayURL:        cfg.Gateway.PayURL,
		QueryURL:      cfg.Gateway.QueryURL,
		ReturnURL:     cfg.Gateway.ReturnURL,
		Version:       cfg.Gateway.Version,
		Locale:        cfg.Gateway.Locale,
		CurrCode:      cfg.Gateway.CurrCode,
		OrderType:     cfg.Gateway.OrderType,
		TimeZone:      cfg.Gateway.TimeZone,
		ExpireMinutes: cfg.Gateway.ExpireMinutes,
		QueryTimeout:  cfg.Gateway.QueryTimeout,
	}, logger)

	catalogRepo := catalog.NewRepository(pool)

	// Vouchers
	voucherRepo := vouchers.NewRepository(pool)
	voucherSvc := vouchers.NewService(voucherRepo, logger)
	voucherHandler := vouchers.NewHandler(voucherSvc, logger)

	// Enrollments
	enrollmentSvc := enrollments.NewService(catalogRepo, enrollments.NewRepository(pool), logger)

	// Payments
	paymentRepo := payments.NewRepository(pool)
	paymentSvc := payments.NewService(paymentRepo, catalogRepo, voucherSvc, gw, enrollmentSvc, payments.Options{
		MinAmount: cfg.Gateway.MinAmount,
		Queue:     jobQueue,
		Archiver:  archiver,
		Logger:    logger,
	})
	paymentHandler := payments.NewHandler(paymentSvc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Gateway callbacks (no JWT; authenticated by signature)
	router.GET("/payments/return", paymentHandler.Return)
	router.GET("/payments/ipn", paymentHandler.IPN)

	api := router.Group("")
	api.Use(middleware.JWT(verifier))
	{
		// Payments
		api.POST("/payments", paymentHandler.Create)
		api.GET("/payments/me", paymentHandler.ListMine)
		api.GET("/payments/pending", middleware.RequireRole(models.RoleAdmin), paymentHandler.ListPending)
		api.GET("/payments/transaction/:txnId", paymentHandler.GetByTransactionID)
		api.GET("/payments/transaction/:txnId/status", paymentHandler.QueryStatus)
		api.GET("/payments/:id", paymentHandler.GetByID)

		// Vouchers
		api.POST("/vouchers/calculate", voucherHandler.Calculate)
		admin := api.Group("/vouchers", middleware.RequireRole(models.RoleAdmin))
		admin.POST("", voucherHandler.Create)
		admin.GET("", voucherHandler.List)
		admin.GET("/:id", voucherHandler.Get)
		admin.PUT("/:id", voucherHandler.Update)
		admin.DELETE("/:id", voucherHandler.Delete)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Server.RunWorker {
		go worker.NewEnrollmentProcessor(paymentSvc, jobQueue, logger).Run(workerCtx)
		logger.Info("enrollment worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
