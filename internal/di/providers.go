package di

import (
	"context"
	"fmt"
	"time"

	"StockPulse/internal/domain/repository"
	"StockPulse/internal/handler/api"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/internal/service/analytics"
	"StockPulse/internal/service/marketdata"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/cache"
	pkgch "StockPulse/pkg/clickhouse"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
	pkgkafka "StockPulse/pkg/kafka"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/metrics"
	"StockPulse/pkg/queue"
	"StockPulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideStateCache creates the shared cache holding task and sub-task
// records. With a Redis host configured this is the store every replica
// agrees on; without one (single-process deployments, memory broker) a
// process-local cache serves.
func ProvideStateCache(cfg *config.Config) (cache.Service, error) {
	if cfg.Redis.Host == "" {
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
}

// ProvideMarketCache layers a local read-through cache over the shared one
// for the market-data namespace. Those entries are written once and never
// mutated, so the local layer cannot serve stale state.
func ProvideMarketCache(cfg *config.Config, state cache.Service) cache.Service {
	if rc, ok := state.(*cache.RedisCache); ok {
		return cache.NewLayeredCache(rc)
	}
	return state
}

// ProvideTaskStore creates the cache-backed task store.
func ProvideTaskStore(cfg *config.Config, state cache.Service, market cache.Service, l *applogger.Logger) repository.TaskStore {
	store := internalrepo.NewCacheTaskStore(state, market, cfg.TTL.Task, cfg.TTL.MarketData)
	store.SetLogger(l)
	return store
}

// ProvideBroker selects the invocation transport from broker.type.
func ProvideBroker(cfg *config.Config, l *applogger.Logger) (repository.Broker, error) {
	switch cfg.Broker.Type {
	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
			pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
			pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		consumer, err := pkgkafka.NewConsumer(l,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerWorkers(cfg.Worker.Workers),
			pkgkafka.WithConsumerTopicWorkers(
				internalrepo.TopicFor(cfg.Broker.TopicPrefix, "forecast"),
				cfg.Worker.ForecastWorkers,
			),
			pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(cfg.Worker.MaxAttempts, cfg.Worker.BackoffMin, cfg.Worker.BackoffMax),
			pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		return internalrepo.NewKafkaBroker(producer, consumer, cfg.Broker.TopicPrefix, l), nil

	case "redis":
		rc, err := cache.NewRedisCache(
			cache.WithRedisHost(cfg.Redis.Host),
			cache.WithRedisPort(cfg.Redis.Port),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
		)
		if err != nil {
			return nil, fmt.Errorf("redis queue client: %w", err)
		}
		q := queue.NewRedisQueue(l, &queue.QueueConfig{
			Workers:    cfg.Worker.Workers,
			RetryLimit: cfg.Worker.MaxAttempts,
			RetryDelay: cfg.Worker.BackoffMin,
		}, rc.Client(), queue.ModeProducerConsumer)
		return internalrepo.NewRedisBroker(q, l), nil

	case "memory":
		return internalrepo.NewMemoryBroker(cfg.Worker.Workers, cfg.Worker.ForecastWorkers, 0, l), nil

	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

// ProvideArchive creates the ClickHouse candle archive, or nil when disabled.
func ProvideArchive(cfg *config.Config) (repository.OHLCVArchive, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	archive := internalrepo.NewClickHouseArchive(client, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		_ = archive.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideCoordinator creates the task coordinator.
func ProvideCoordinator(cfg *config.Config, store repository.TaskStore, broker repository.Broker, m repository.Metrics, l *applogger.Logger) *usecase.Coordinator {
	return usecase.NewCoordinator(store, broker, m, l, cfg.TTL.Task)
}

// ProvideWorkers assembles the harness, executors, and retry policy.
func ProvideWorkers(
	cfg *config.Config,
	store repository.TaskStore,
	coordinator *usecase.Coordinator,
	archive repository.OHLCVArchive,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Workers {
	harness := usecase.NewHarness(store, m, l)
	dataFetch := usecase.NewDataFetchExecutor(store, marketdata.New(cfg), archive, l)
	analyses := []usecase.Executor{
		usecase.NewAnalysisExecutor(store, analytics.NewHTTPSentimentProvider(cfg)),
		usecase.NewAnalysisExecutor(store, analytics.NewHTTPTechnicalProvider(cfg)),
		usecase.NewAnalysisExecutor(store, analytics.NewHTTPForecastProvider(cfg)),
	}
	base := usecase.Policy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BackoffMin:  cfg.Worker.BackoffMin,
		BackoffMax:  cfg.Worker.BackoffMax,
		Timeout:     cfg.Worker.Timeout,
	}
	return usecase.NewWorkers(harness, coordinator, dataFetch, analyses, base, cfg.Worker.ForecastTimeout)
}

// ProvideHTTPHandler creates the orchestration API handler.
func ProvideHTTPHandler(l *applogger.Logger, coordinator *usecase.Coordinator, archive repository.OHLCVArchive) xhttp.Handler {
	return api.NewTasksEchoHandler(l, coordinator, archive)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	broker repository.Broker,
	workers *usecase.Workers,
	handler xhttp.Handler,
	archive repository.OHLCVArchive,
) *server.App {
	return server.New(cfg, l, broker, workers, handler, archive)
}
