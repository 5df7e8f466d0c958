package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/tumor-report/internal/attributes"
	"github.com/example/tumor-report/internal/blobstore"
	"github.com/example/tumor-report/internal/classifier"
	"github.com/example/tumor-report/internal/config"
	"github.com/example/tumor-report/internal/events"
	"github.com/example/tumor-report/internal/handlers"
	"github.com/example/tumor-report/internal/identity"
	"github.com/example/tumor-report/internal/intake"
	"github.com/example/tumor-report/internal/logging"
	"github.com/example/tumor-report/internal/pipeline"
	"github.com/example/tumor-report/internal/report"
	"github.com/example/tumor-report/internal/repository"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store := initStore(ctx, cfg, logger)
	ids := identity.NewUUIDGenerator(logger)

	collaborator, closeCollaborator := initClassifier(ctx, cfg, logger)
	defer closeCollaborator()

	demo, err := classifier.NewDemoStrategy(cfg.Classifier.DemoStrategy, attributes.NewRandomSource())
	if err != nil {
		logger.Fatal("invalid demo strategy", zap.Error(err))
	}
	adapter := classifier.NewAdapter(store, collaborator, demo, logger, classifier.WithTimeout(cfg.Classifier.Timeout))

	deps := pipeline.Dependencies{
		Intake:     intake.New(store, ids, logger),
		Classifier: adapter,
		Deriver:    attributes.NewDeriver(cfg.Policy, attributes.NewRandomSource(), logger),
		Renderer:   report.NewRenderer(store, ids, logger),
		Store:      store,
		IDs:        ids,
	}

	if cfg.Cache.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient := initRedis(redisCtx, cfg.Cache.RedisAddr, logger)
		defer redisClient.Close()
		deps.Cache = pipeline.NewRedisCache(redisClient)
	}

	if cfg.RunLog.DSN != "" {
		db := initDatabase(ctx, cfg, logger)
		repo := repository.NewRunRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		deps.Runs = repo
	}

	if cfg.Events.AMQPURL != "" {
		publisher, err := events.NewRabbitMQPublisher(ctx, cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			logger.Fatal("failed to connect to message broker", zap.Error(err))
		}
		defer publisher.Close()
		deps.Events = publisher
	}

	orchestrator := pipeline.NewOrchestrator(deps, logger, pipeline.WithCacheTTL(cfg.Cache.ReportTTL))

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, orchestrator, handlers.Health{
		Classifier: cfg.Classifier.Backend,
		DemoMode:   adapter.DemoMode(),
	}, logger)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	logger.Info("tumor report API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("classifier", cfg.Classifier.Backend),
		zap.Bool("demo_mode", adapter.DemoMode()),
	)
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) blobstore.Store {
	if cfg.Storage.Backend == config.StorageS3 {
		store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:          cfg.Storage.S3Bucket,
			Prefix:          cfg.Storage.S3Prefix,
			Endpoint:        cfg.Storage.S3EndpointURL,
			Region:          cfg.Storage.AWSRegion,
			AccessKeyID:     cfg.Storage.AWSAccessKeyID,
			SecretAccessKey: cfg.Storage.AWSSecretAccessKey,
		})
		if err != nil {
			logger.Fatal("failed to configure s3 storage", zap.Error(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Fatal("failed to prepare s3 bucket", zap.Error(err))
		}
		return store
	}

	store, err := blobstore.NewLocalStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("failed to prepare local storage", zap.Error(err))
	}
	return store
}

// initClassifier connects the configured backend. An unreachable backend
// leaves the service in demo mode instead of stopping it.
func initClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classifier.Collaborator, func()) {
	noop := func() {}
	c := cfg.Classifier

	switch c.Backend {
	case config.BackendGRPC:
		collab, err := classifier.DialGRPC(ctx, c.Addr, logger)
		if err != nil {
			logger.Warn("grpc classifier unavailable, running in demo mode", zap.Error(err))
			return nil, noop
		}
		return collab, func() { _ = collab.Close() }
	case config.BackendONNX:
		collab, err := classifier.NewONNXCollaborator(classifier.ONNXConfig{
			ModelPath:  c.ONNXModelPath,
			RuntimeLib: c.ONNXRuntimeLib,
			InputName:  c.ONNXInputName,
			OutputName: c.ONNXOutputName,
		}, logger)
		if err != nil {
			logger.Warn("onnx classifier unavailable, running in demo mode", zap.Error(err))
			return nil, noop
		}
		return collab, func() { _ = collab.Close() }
	case config.BackendTFServing:
		collab, err := classifier.NewTFServingCollaborator(c.TFServingURL, c.TFServingModel, logger)
		if err != nil {
			logger.Warn("tfserving classifier unavailable, running in demo mode", zap.Error(err))
			return nil, noop
		}
		return collab, noop
	}
	return nil, noop
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	logLevel := gormlogger.Warn
	if cfg.Log.Level == "debug" {
		logLevel = gormlogger.Info
	}
	db, err := repository.Open(cfg.RunLog.DSN, logLevel)
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
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
