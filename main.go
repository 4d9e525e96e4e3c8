package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-service/cart"
	"order-service/config"
	"order-service/controllers"
	"order-service/database"
	"order-service/gateways"
	"order-service/logger"
	"order-service/middleware"
	"order-service/notify"
	aws_pkg "order-service/pkg/aws"
	"order-service/repository"
	"order-service/routes"
	"order-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	awsReady := awsErr == nil

	var cloudWatch io.Writer
	var cwErr error
	if cfg.CloudWatchEnabled && awsReady {
		var cw *aws_pkg.CloudWatchLogsClient
		if cw, cwErr = aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName); cwErr == nil {
			cloudWatch = cw
		}
	}

	log, err := logger.New(cfg.Env, cloudWatch)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if awsErr != nil {
		log.Warn("AWS config unavailable; SNS, SQS and CloudWatch are disabled", zap.Error(awsErr))
	}
	if cwErr != nil {
		log.Warn("CloudWatch Logs unavailable; logging to stdout only", zap.Error(cwErr))
	}

	var db *gorm.DB
	orders, payments := openStore(cfg, log, &db)
	defer func() { _ = database.Close(db) }()

	redisClient, err := cart.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	metricsClient := aws_pkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.CloudWatchEnabled && awsReady)
	var metrics services.MetricsRecorder
	if metricsClient.IsEnabled() {
		metrics = metricsClient
	}

	publisher, closePublisher := buildPublisher(cfg, awsCfg, awsReady, log)
	defer closePublisher()
	notifier := notify.NewAsyncNotifier(notify.NewEventNotifier(publisher, log), 10*time.Second, log)

	registry := gateways.NewRegistry(
		gateways.NewMoMoAdapter(cfg.MoMo()),
		gateways.NewZaloPayAdapter(cfg.ZaloPay()),
		gateways.NewVNPayAdapter(cfg.VNPay()),
		gateways.NewCODAdapter(cfg.CODSecret),
	)

	machine := services.NewStatusStateMachine(orders, notifier, log)
	orderService := services.NewOrderService(orders, payments, cart.NewRedisSource(redisClient), machine, notifier, metrics, log,
		services.WithShippingProvider(cfg.ShippingProvider))
	reconciler := services.NewPaymentReconciler(orders, payments, machine, registry, services.ReconcilerConfig{
		Policy:   services.SignaturePolicy(cfg.SignaturePolicy),
		Currency: cfg.Currency,
	}, metrics, log)

	if cfg.CallbackQueueURL != "" && awsReady {
		poller := aws_pkg.NewSQSConsumer(awsCfg, cfg.CallbackQueueURL, 60, log)
		consumer := services.NewCallbackConsumer(poller, reconciler, metrics, log)
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Callback consumer stopped", zap.Error(err))
			}
		}()
		log.Info("Consuming payment callbacks from SQS", zap.String("queue_url", cfg.CallbackQueueURL))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MetricsMiddleware(metricsClient, serviceName))
	r.Use(middleware.SecurityHeaders())
	r.Use(corsMiddleware(cfg))

	r.Use(middleware.Timeout(30 * time.Second))

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/2+1, 5*time.Minute)
	go limiter.RunCleanup(ctx)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})

	routes.RegisterRoutes(r,
		middleware.NewJWTAuthenticator(cfg.JWTSecret, cfg.TrustGatewayHeader),
		controllers.NewOrderController(orderService),
		controllers.NewPaymentController(reconciler, log),
		routes.Options{
			EnableMockPayments: !cfg.IsProduction(),
			RateLimit:          middleware.RateLimitMiddleware(limiter),
		},
	)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("Order service starting", zap.String("port", cfg.Port), zap.Strings("gateways", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	notifier.Wait()
	log.Info("Server exited cleanly")
}

func openStore(cfg *config.Config, log *zap.Logger, db **gorm.DB) (repository.OrderRepository, repository.PaymentRepository) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using in-memory store; data is lost on restart")
		return repository.NewMemoryOrderRepository(), repository.NewMemoryPaymentRepository()
	}

	conn, err := database.Connect(cfg.DSN(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	*db = conn
	return repository.NewGormOrderRepository(conn), repository.NewGormPaymentRepo(conn)
}

// buildPublisher selects the transport for order events. The returned
// closer is always safe to call.
func buildPublisher(cfg *config.Config, awsCfg sdkaws.Config, awsReady bool, log *zap.Logger) (notify.Publisher, func()) {
	noop := func() {}

	switch cfg.NotifyTransport {
	case config.TransportSNS:
		if !awsReady {
			log.Warn("SNS transport selected but AWS config is unavailable; notifications disabled")
			return nil, noop
		}
		return notify.NewSNSPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.SNSTopicARN), noop
	case config.TransportKafka:
		p := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		return p, func() { _ = p.Close() }
	case config.TransportRabbitMQ:
		p, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			log.Warn("RabbitMQ unavailable; notifications disabled", zap.Error(err))
			return nil, noop
		}
		return p, func() { _ = p.Close() }
	default:
		return nil, noop
	}
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	switch {
	case len(cfg.AllowedOrigins) == 0:
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	case len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*":
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	default:
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(corsCfg)
}
