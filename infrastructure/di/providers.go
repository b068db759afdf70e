package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"knowgraph/application/commands/bus"
	commandhandlers "knowgraph/application/commands/handlers"
	"knowgraph/application/ports"
	querybus "knowgraph/application/queries/bus"
	queryhandlers "knowgraph/application/queries/handlers"
	"knowgraph/application/services"
	"knowgraph/domain/versioning"
	"knowgraph/infrastructure/config"
	"knowgraph/infrastructure/messaging"
	"knowgraph/infrastructure/messaging/eventbridge"
	"knowgraph/infrastructure/persistence"
	"knowgraph/infrastructure/persistence/dynamodb"
	"knowgraph/infrastructure/persistence/schema"
	"knowgraph/infrastructure/persistence/sqlite"
	"knowgraph/pkg/observability"
)

const serviceName = "knowgraph"

// ProvideLogLevel parses LOG_LEVEL into a level the config watcher can
// change at runtime
func ProvideLogLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	return zap.NewAtomicLevelAt(lvl), nil
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName), zap.String("environment", cfg.Environment)), nil
}

// ProvideAWSConfig creates AWS configuration. Loading never contacts AWS,
// so it is safe for the sqlite backend too.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// ProvideDynamoDBClient creates a DynamoDB client, pointed at
// DYNAMODB_ENDPOINT when set
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideGraphRepository opens the configured store, optionally behind a
// circuit breaker
func ProvideGraphRepository(
	cfg *config.Config,
	client *awsdynamodb.Client,
	logger *zap.Logger,
) (ports.GraphRepository, func(), error) {
	var (
		repo    ports.GraphRepository
		cleanup = func() {}
	)

	switch cfg.StoreBackend {
	case config.BackendSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		repo = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", zap.Error(err))
			}
		}
	case config.BackendDynamoDB:
		repo = dynamodb.NewGraphRepository(client, cfg.DynamoDBTable, logger)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.Info("Graph store ready", zap.String("backend", cfg.StoreBackend))

	if cfg.EnableCircuitBreaker {
		repo = persistence.NewCircuitBreakerRepository(repo, persistence.DefaultCircuitBreakerConfig(cfg.StoreBackend), logger)
	}
	return repo, cleanup, nil
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
// and only logs events otherwise
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return messaging.NewLogPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector(serviceName)
}

// ProvideTracer exports spans when tracing is enabled and returns a no-op
// tracer otherwise
func ProvideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.Tracer, func(), error) {
	if !cfg.EnableTracing {
		return observability.NewNoopTracer(), func() {}, nil
	}

	tracer, err := observability.InitTracing(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down tracer", zap.Error(err))
		}
	}
	return tracer, cleanup, nil
}

// ProvideInMemoryCache creates the query cache
func ProvideInMemoryCache(metrics *observability.Collector) (*InMemoryCache, func()) {
	cache := NewInMemoryCache(metrics)
	return cache, cache.Close
}

// ProvideVersioningService applies HISTORY_RETENTION
func ProvideVersioningService(cfg *config.Config) *versioning.VersioningService {
	return versioning.NewVersioningService(versioning.RetentionPolicy{MaxVersions: cfg.HistoryRetention})
}

// ProvideDocumentCodec provides the stored document format registry
func ProvideDocumentCodec() ports.DocumentCodec {
	return schema.NewRegistry()
}

// ProvideGraphHistoryService creates the history service
func ProvideGraphHistoryService(
	repo ports.GraphRepository,
	versioningSvc *versioning.VersioningService,
	codec ports.DocumentCodec,
	publisher ports.EventPublisher,
	cache ports.Cache,
	metrics *observability.Collector,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *services.GraphHistoryService {
	return services.NewGraphHistoryService(repo, versioningSvc, codec, publisher, cache, metrics, tracer, logger)
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	svc *services.GraphHistoryService,
	metrics *observability.Collector,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.LoggingMiddleware(&zapLoggerAdapter{logger}),
		bus.MetricsMiddleware(&commandMetricsAdapter{metrics}),
	)
	if err := commandhandlers.RegisterGraphCommands(commandBus, svc, logger); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(
	svc *services.GraphHistoryService,
	cache ports.Cache,
	metrics *observability.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus(
		querybus.NewLoggingMiddleware(&zapLoggerAdapter{logger}),
		querybus.NewMetricsMiddleware(&queryMetricsAdapter{metrics}),
		querybus.NewCachingMiddleware(cache, int(cfg.QueryCacheTTL.Seconds())),
	)
	if err := queryhandlers.RegisterGraphQueries(queryBus, svc); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// zapLoggerAdapter adapts zap.Logger to the bus Logger interfaces
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, fields ...interface{}) {
	a.logger.Info(msg, a.fieldsToZap(fields...)...)
}

func (a *zapLoggerAdapter) Error(msg string, fields ...interface{}) {
	a.logger.Error(msg, a.fieldsToZap(fields...)...)
}

func (a *zapLoggerAdapter) fieldsToZap(fields ...interface{}) []zap.Field {
	var zapFields []zap.Field
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key, _ := fields[i].(string)
			zapFields = append(zapFields, zap.Any(key, fields[i+1]))
		}
	}
	return zapFields
}

// commandMetricsAdapter adapts the collector to bus.Metrics
type commandMetricsAdapter struct {
	metrics *observability.Collector
}

func (a *commandMetricsAdapter) StartTimer(metric, label string) bus.Timer {
	return a.metrics.StartTimer(metric, label)
}

func (a *commandMetricsAdapter) Increment(metric, label string) {
	a.metrics.Increment(metric, label)
}

// queryMetricsAdapter adapts the collector to querybus.Metrics
type queryMetricsAdapter struct {
	metrics *observability.Collector
}

func (a *queryMetricsAdapter) StartTimer(metric, label string) querybus.Timer {
	return a.metrics.StartTimer(metric, label)
}

func (a *queryMetricsAdapter) Increment(metric, label string) {
	a.metrics.Increment(metric, label)
}
