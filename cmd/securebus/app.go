package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"securebus/internal/audit"
	"securebus/internal/compliance"
	"securebus/internal/config"
	"securebus/internal/constants"
	"securebus/internal/consumer"
	"securebus/internal/idempotency"
	"securebus/internal/lifecycle"
	"securebus/internal/logger"
	"securebus/internal/ops"
	"securebus/internal/producer"
	"securebus/internal/security"
	"securebus/internal/transport"
	"securebus/pkg/bootstrap"
	"securebus/pkg/health"
	"securebus/pkg/logging"
	"securebus/pkg/metrics"
	"securebus/pkg/middleware"
	"securebus/pkg/models"
	"securebus/pkg/ratelimit"
	"securebus/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	sink           audit.Sink
	reader         audit.Reader
	asyncSinks     []*audit.AsyncSink
	crypto         *security.Provider
	engine         *compliance.Engine
	processed      idempotency.Store
	memoryStore    *idempotency.MemoryStore
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
	serverCancel   context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(ctx, a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterProducerMetrics()
	metrics.RegisterConsumerMetrics()
	metrics.RegisterComplianceMetrics()
	metrics.RegisterTransportMetrics()
	metrics.RegisterOpsMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitTransports(); err != nil {
		return err
	}

	if err := a.initAudit(); err != nil {
		return fmt.Errorf("failed to initialize audit sinks: %w", err)
	}

	if err := a.initSecurity(); err != nil {
		return fmt.Errorf("failed to initialize security provider: %w", err)
	}

	if err := a.initCompliance(ctx); err != nil {
		return fmt.Errorf("failed to initialize compliance engine: %w", err)
	}

	if err := a.initIdempotency(); err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}

	if err := a.initProducer(ctx); err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}

	if err := a.initConsumer(ctx); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	if db != nil {
		a.health.Register(health.NewPostgreSQLChecker(db))
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = rdb
	if rdb != nil {
		a.health.Register(health.Optional(health.NewRedisChecker(rdb)))
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	if mongoClient != nil {
		a.health.Register(health.NewMongoDBChecker(mongoClient))
	}

	return nil
}

// initAudit builds the configured sink fan-out. Database and topic sinks sit
// behind an AsyncSink so their latency never reaches the message path.
func (a *App) initAudit() error {
	cfg := a.Config.Audit
	var sinks []audit.Sink

	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(a.Logger))
		case "memory":
			m := audit.NewMemorySink()
			sinks = append(sinks, m)
			if a.reader == nil {
				a.reader = m
			}
		case "postgres":
			if a.db == nil {
				return fmt.Errorf("audit sink %q requires database.postgres", name)
			}
			async := audit.NewAsyncSink(name, audit.NewPostgresSink(a.db, a.Logger), cfg.BufferSize, a.Logger)
			a.asyncSinks = append(a.asyncSinks, async)
			sinks = append(sinks, async)
			a.reader = async
		case "topic":
			topic := cfg.Topic
			if topic == "" {
				topic = constants.DefaultAuditTopic
			}
			async := audit.NewAsyncSink(name, audit.NewTopicSink(topic, a.Transports.Publisher, a.Logger), cfg.BufferSize, a.Logger)
			a.asyncSinks = append(a.asyncSinks, async)
			sinks = append(sinks, async)
		default:
			return fmt.Errorf("unknown audit sink: %s", name)
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, audit.NewLogSink(a.Logger))
	}
	a.sink = audit.NewMultiSink(sinks...)

	a.Logger.Infow("Audit sinks initialized", "sinks", cfg.Sinks, "reporting", a.reader != nil)
	return nil
}

func (a *App) initSecurity() error {
	key, err := a.Config.Security.DecodeMasterKey()
	if err != nil {
		return err
	}

	provider, err := security.NewProvider(security.Config{
		MasterKey:        key,
		KeyVersion:       a.Config.Security.KeyVersion,
		SigningAlgorithm: a.Config.Security.SigningAlgorithm,
	})
	if err != nil {
		return err
	}

	a.crypto = provider
	a.Logger.Infow("Security provider initialized",
		"key_version", a.Config.Security.KeyVersion,
		"signing_algorithm", provider.SigningAlgorithm(),
	)
	return nil
}

func (a *App) initCompliance(ctx context.Context) error {
	opts := []compliance.Option{
		compliance.WithSubjectMasker(func(payload map[string]interface{}) map[string]interface{} {
			return a.crypto.Mask(a.Config.Security.MaskedFields, payload)
		}),
	}
	if a.reader != nil {
		opts = append(opts, compliance.WithReader(a.reader))
	}

	switch a.Config.Compliance.SubjectStore {
	case "mongodb":
		if a.mongoClient == nil {
			return fmt.Errorf("subject store mongodb requires database.mongodb")
		}
		db, err := a.dbConnector.MongoDatabase(ctx, a.mongoClient)
		if err != nil {
			return err
		}
		opts = append(opts, compliance.WithSubjectStore(compliance.NewMongoSubjectStore(db)))
	case "", "memory":
	default:
		return fmt.Errorf("unknown subject store: %s", a.Config.Compliance.SubjectStore)
	}

	engine, err := compliance.NewEngineFromConfig(a.Config.Compliance, a.sink, a.Logger.With("component", "compliance"), opts...)
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

func (a *App) initIdempotency() error {
	cfg := a.Config.Consumer
	if !cfg.SkipDuplicates {
		return nil
	}

	window := cfg.DuplicateWindow
	if window <= 0 {
		window = constants.DefaultDuplicateWindow
	}

	switch cfg.IdempotencyStore {
	case "redis":
		if a.redisClient == nil {
			return fmt.Errorf("idempotency store redis requires database.redis")
		}
		var store idempotency.Store = idempotency.NewRedisStore(a.redisClient, window)
		if a.Config.CircuitBreaker.Enabled {
			store = idempotency.NewCircuitBreakerStore(store, a.Config.CircuitBreaker)
		}
		a.processed = store
	case "", "memory":
		a.memoryStore = idempotency.NewMemoryStore(window, window/4)
		a.processed = a.memoryStore
	default:
		return fmt.Errorf("unknown idempotency store: %s", cfg.IdempotencyStore)
	}

	a.Logger.Infow("Duplicate suppression enabled", "store", cfg.IdempotencyStore, "window", window)
	return nil
}

func (a *App) initProducer(ctx context.Context) error {
	a.Producer = producer.New(
		producer.ConfigFrom(a.Config.Producer),
		a.Transports.Publisher,
		a.crypto,
		a.engine,
		a.sink,
		a.Logger.With("component", "producer"),
	)

	if pinger, ok := a.Transports.Publisher.(transport.Pinger); ok {
		a.health.Register(health.NewPingChecker("broker", pinger.Ping))
	}

	return a.Producer.Connect(ctx)
}

func (a *App) initConsumer(ctx context.Context) error {
	var opts []consumer.Option
	if a.processed != nil {
		opts = append(opts, consumer.WithIdempotencyStore(a.processed))
	}

	a.Consumer = consumer.New(
		consumer.ConfigFrom(a.Config.Consumer, a.Config.Broker.Kafka, a.Config.Security),
		a.Transports.Subscriber,
		a.crypto,
		a.engine,
		a.sink,
		a.Logger.With("component", "consumer"),
		opts...,
	)

	if err := a.Consumer.Connect(ctx); err != nil {
		return err
	}

	topics := a.Config.Consumer.Topics
	if len(topics) == 0 {
		a.Logger.WarnwCtx(ctx, "No consumer topics configured, consumer stays idle")
		return nil
	}

	return a.Consumer.Subscribe(ctx, topics, a.indexSubjectData, consumer.SubscribeOptions{
		FromBeginning: a.Config.Consumer.FromBeginning,
	})
}

// indexSubjectData attributes every consumed message that names a user to
// that data subject.
func (a *App) indexSubjectData(ctx context.Context, msg *models.MessageEnvelope, pctx consumer.ProcessingContext) error {
	if msg.UserID == "" {
		return nil
	}

	err := a.engine.RecordSubjectData(ctx, compliance.SubjectRecord{
		SubjectID:  msg.UserID,
		MessageID:  msg.MessageID,
		Topic:      pctx.Topic,
		EventType:  msg.EventType,
		RecordedAt: msg.Timestamp,
		Payload:    msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to record subject data: %w", err)
	}

	a.Logger.DebugwCtx(ctx, "Subject data recorded", "topic", pctx.Topic, "retry", pctx.IsRetry)
	return nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger.With("component", "ops")))

	if a.Config.Server.RateLimit.Enabled {
		limiterCtx, cancel := context.WithCancel(context.Background())
		a.serverCancel = cancel
		rateLimitConfig := ratelimit.FromConfig(a.Config.Server.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(limiterCtx, rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	ops.NewHandler(a.Producer, a.Consumer, a.engine, a.health, a.Logger).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.watch(gCtx, constants.ComponentProducer, a.Producer.Notifications())
	})

	if a.Consumer.State() == consumer.StateSubscribed {
		if err := a.Consumer.Run(gCtx); err != nil {
			return err
		}
		g.Go(func() error {
			return a.watch(gCtx, constants.ComponentConsumer, a.Consumer.Notifications())
		})
	}

	return g.Wait()
}

// watch logs lifecycle events and fails the group when the component
// crashes, so the process exits and can be restarted.
func (a *App) watch(ctx context.Context, component string, events <-chan lifecycle.Event) error {
	watchCtx := logging.WithServiceName(ctx, serviceName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == lifecycle.Crashed {
				a.Logger.ErrorwCtx(watchCtx, "Component crashed", "component", component, "error", ev.Err)
				return fmt.Errorf("%s crashed: %w", component, ev.Err)
			}
			a.Logger.InfowCtx(watchCtx, "Lifecycle event", "component", component, "event", ev.Type)
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down securebus")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}
		if a.serverCancel != nil {
			a.serverCancel()
		}

		for _, s := range a.asyncSinks {
			if err := s.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("audit sink close error: %w", err))
			}
		}

		if a.memoryStore != nil {
			if err := a.memoryStore.Close(); err != nil {
				errs = append(errs, fmt.Errorf("idempotency store close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
