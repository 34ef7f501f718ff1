// Package main runs the course payments HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coursemart/backend/config"
	"github.com/coursemart/backend/internal/auth"
	"github.com/coursemart/backend/internal/emaillogs"
	"github.com/coursemart/backend/internal/gateway"
	"github.com/coursemart/backend/internal/metrics"
	"github.com/coursemart/backend/internal/middleware"
	"github.com/coursemart/backend/internal/notify"
	"github.com/coursemart/backend/internal/payments"
	"github.com/coursemart/backend/internal/reports"
	"github.com/coursemart/backend/pkg/database"
	"github.com/coursemart/backend/pkg/events"
	"github.com/coursemart/backend/pkg/queue"
	"github.com/coursemart/backend/pkg/redis"
	"github.com/coursemart/backend/pkg/response"
	"github.com/coursemart/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis carries post-payment jobs only; payments still verify without it.
	var jobQueue *queue.Queue
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, post-payment jobs disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}

	var presigner payments.Presigner
	if cfg.AWS.ReceiptsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReceiptsBucket:       cfg.AWS.ReceiptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			presigner = s3Client
		}
	}

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	var publisher notify.EventPublisher
	if producer != nil {
		publisher = producer
	}
	var jobs notify.JobQueue
	if jobQueue != nil {
		jobs = jobQueue
	}
	notifier := notify.New(publisher, jobs, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPaymentMetrics(reg)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Payments
	paymentRepo := payments.NewRepository(pool)
	razorpay := gateway.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.Timeout(), logger)
	paymentSvc := payments.NewService(paymentRepo, razorpay, notifier, cfg.Razorpay.KeySecret, cfg.Razorpay.KeyID, logger)
	paymentSvc.SetObserver(paymentMetrics)
	paymentHandler := payments.NewHandler(paymentSvc, presigner, logger)

	// Admin: email logs and ledger export
	var emailJobs emaillogs.EmailEnqueuer
	if jobQueue != nil {
		emailJobs = jobQueue
	}
	emailLogsHandler := emaillogs.NewHandler(emaillogs.NewRepository(pool), paymentSvc, emailJobs, logger)
	reportsHandler := reports.NewHandler(paymentRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Checkout callback (no JWT; the gateway signature authenticates it)
	router.POST("/api/payment/verify", paymentHandler.Verify)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/payments/orders", paymentHandler.CreateOrder)
		api.GET("/courses/:courseId/enrollment", paymentHandler.Enrollment)
		api.GET("/me/enrollments", paymentHandler.MyEnrollments)
		api.GET("/payments/:id/receipt-url", paymentHandler.ReceiptURL)

		admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
		admin.GET("/payments/:id", paymentHandler.GetPayment)
		admin.GET("/payments/:id/emails", emailLogsHandler.ListByPayment)
		admin.POST("/payments/:id/emails/resend", emailLogsHandler.Resend)
		admin.GET("/reports/payments", reportsHandler.ExportPayments)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	notifier.Wait()
	if err := producer.Close(); err != nil {
		logger.Warn("kafka producer close", zap.Error(err))
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
