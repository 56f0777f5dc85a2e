package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"EpiCast/internal/domain/repository"
	"EpiCast/internal/handler/api"
	"EpiCast/internal/registry"
	internalrepo "EpiCast/internal/repository"
	svcmetrics "EpiCast/internal/service/metrics"
	"EpiCast/internal/service/ratelimit"
	"EpiCast/internal/services/sarima"
	"EpiCast/internal/usecase"
	"EpiCast/pkg/cache"
	pkgch "EpiCast/pkg/clickhouse"
	"EpiCast/pkg/config"
	xhttp "EpiCast/pkg/http"
	pkgkafka "EpiCast/pkg/kafka"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/metrics"
	"EpiCast/pkg/objstore"
	"EpiCast/pkg/queue"
	"EpiCast/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideClickHouseClient creates a ClickHouse client and optionally
// initializes the schema.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithProtocol(cfg.ClickHouse.UseHTTP, cfg.ClickHouse.Compress),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, 0, 0),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if !cfg.ClickHouse.InitSchema {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database, cfg.ClickHouse.IncidenceTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse schema ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, nil
}

// ProvideObjectStore opens the registry backend.
func ProvideObjectStore(cfg *config.Config) (objstore.Store, error) {
	store, err := objstore.Open(context.Background(), objstore.Config{
		Backend:  cfg.Registry.Backend,
		Path:     cfg.Registry.Path,
		InMemory: cfg.Registry.InMemory,
		Bucket:   cfg.Registry.Bucket,
		Prefix:   cfg.Registry.Prefix,
		Retries:  cfg.Registry.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return store, nil
}

// ProvideEstimator creates the SARIMA estimator.
func ProvideEstimator(cfg *config.Config) *sarima.Estimator {
	return sarima.NewEstimator(sarima.Options{MaxIterations: cfg.Trainer.MaxIterations})
}

// ProvideRegistry creates the model registry over the object store.
func ProvideRegistry(store objstore.Store, est *sarima.Estimator, cfg *config.Config, l *applogger.Logger) *registry.Registry {
	layout := registry.Layout{
		ModelRoot:    cfg.Registry.ModelRoot,
		TuningRoot:   cfg.Registry.TuningRoot,
		SnapshotRoot: cfg.Registry.SnapshotRoot,
	}
	return registry.New(store, est, layout, nil, l)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

func ProvideIncidenceStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.IncidenceStore {
	s := internalrepo.NewCHIncidenceStore(ch, cfg.ClickHouse.IncidenceTable)
	s.SetLogger(l)
	return s
}

func ProvideForecastStore(ch *pkgch.Client, l *applogger.Logger) repository.ForecastStore {
	s := internalrepo.NewCHForecastStore(ch)
	s.SetLogger(l)
	return s
}

func ProvideRunLog(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.RunLog {
	s := internalrepo.NewCHRunLog(ch, cfg.Registry.ModelRoot)
	s.SetLogger(l)
	return s
}

// ProvideCache connects to Redis, falling back to a process-local cache
// when Redis is disabled or unreachable.
func ProvideCache(cfg *config.Config, l *applogger.Logger) cache.Service {
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisEndpoint(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
			cache.WithRedisPool(cfg.Redis.PoolSize, 0),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err == nil {
			return rc
		}
		l.Warn("redis unavailable, using in-memory cache", applogger.String("addr", cfg.Redis.Addr), applogger.Error(err))
	}
	return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Redis.LocalSize))
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithSource("epicast"),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Compression),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes lifecycle events when a producer exists.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.TrainingTopic, cfg.Kafka.ForecastTopic)
}

func retryPolicy(cfg *config.Config) usecase.RetryPolicy {
	r := cfg.Pipeline.Retry
	return usecase.RetryPolicy{Attempts: r.Attempts, BackoffMin: r.BackoffMin, BackoffMax: r.BackoffMax}
}

func ProvideTuner(
	series repository.IncidenceStore,
	reg *registry.Registry,
	runs repository.RunLog,
	est *sarima.Estimator,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Tuner {
	w := cfg.Forecast.ValidationWindow
	return usecase.NewTuner(series, reg, runs, est, usecase.TunerConfig{
		Grid:             sarima.Grid(cfg.Forecast.Grid),
		ValidationWindow: usecase.Window{Months: w.Months, Periods: w.Periods},
		CandidateWorkers: cfg.Forecast.CandidateWorkers,
		Retry:            retryPolicy(cfg),
	}, m, l)
}

func ProvideTrainer(
	series repository.IncidenceStore,
	reg *registry.Registry,
	runs repository.RunLog,
	events repository.EventPublisher,
	c cache.Service,
	est *sarima.Estimator,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Trainer {
	w := cfg.Trainer.TestWindow
	return usecase.NewTrainer(usecase.TrainerDeps{
		Series:    series,
		Tuning:    reg,
		Registry:  reg,
		RunLog:    runs,
		Snapshots: reg,
		Events:    events,
		Locker:    c,
		Cache:     c,
		Estimator: est,
		Metrics:   m,
		Logger:    l,
	}, usecase.TrainerConfig{
		TestWindow:      usecase.Window{Months: w.Months, Periods: w.Periods},
		RefitFullSeries: cfg.Trainer.RefitFullSeries,
		SaveSnapshot:    cfg.Trainer.SaveSnapshot,
		LockTTL:         cfg.Redis.LockTTL,
		Retry:           retryPolicy(cfg),
	})
}

func ProvideForecaster(
	reg *registry.Registry,
	fs repository.ForecastStore,
	events repository.EventPublisher,
	c cache.Service,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Forecaster {
	return usecase.NewForecaster(reg, fs, events, c, usecase.ForecasterConfig{
		Horizon:  cfg.Forecast.Horizon,
		StepDays: cfg.Forecast.StepDays,
		Retry:    retryPolicy(cfg),
	}, m, l)
}

func ProvidePipeline(
	tuner *usecase.Tuner,
	trainer *usecase.Trainer,
	fc *usecase.Forecaster,
	series repository.IncidenceStore,
	reg *registry.Registry,
	m repository.Metrics,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.Pipeline {
	return usecase.NewPipeline(tuner, trainer, fc, series, reg, cfg.Forecast.Workers, m, l)
}

func ProvideQueries(reg *registry.Registry, fs repository.ForecastStore, c cache.Service, cfg *config.Config) *usecase.Queries {
	return usecase.NewQueries(reg, fs, c, cfg.Redis.ForecastTTL)
}

// ProvideRunHub creates the run stream and subscribes it to the pipeline.
func ProvideRunHub(p *usecase.Pipeline, l *applogger.Logger) *api.RunHub {
	hub := api.NewRunHub(l)
	p.Observe(hub)
	return hub
}

// ProvideTuneQueue creates the background tuning queue on the Redis cache
// connection. It is nil when no Redis connection exists.
func ProvideTuneQueue(c cache.Service, p *usecase.Pipeline, cfg *config.Config, l *applogger.Logger) *queue.RedisQueue {
	rc, ok := c.(*cache.RedisCache)
	if !ok {
		return nil
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    cfg.Redis.Workers,
		RetryLimit: cfg.Pipeline.Retry.Attempts,
		RetryDelay: cfg.Pipeline.Retry.BackoffMax,
		MaxDelay:   time.Minute,
		PollEvery:  time.Second,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":queue:"+cfg.Redis.TuneQueue))
	q.RegisterJob(usecase.NewTuneJob(p, l))
	if cfg.Metrics.Enabled {
		if err := svcmetrics.Register(prometheus.DefaultRegisterer, svcmetrics.NewQueueCollector(cfg.Redis.TuneQueue, q)); err != nil {
			l.Warn("queue metrics not registered", applogger.Error(err))
		}
	}
	return q
}

func ProvideLifecycleHandler(l *applogger.Logger, p *usecase.Pipeline, q *usecase.Queries, jobs *queue.RedisQueue, hub *api.RunHub, cfg *config.Config) *api.LifecycleHandler {
	var pub queue.Publisher
	if jobs != nil {
		pub = jobs
	}
	h := api.NewLifecycleHandler(l, p, q, pub, hub)
	if cfg.Server.RunBurst > 0 {
		h.WithRunLimiter(ratelimit.New(cfg.Server.RunBurst, cfg.Server.RunPerMinute))
	}
	return h
}

func ProvideHTTPServer(h *api.LifecycleHandler, cfg *config.Config, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, prometheus.DefaultRegisterer))
	}
	return xhttp.NewServer(h, l, opts...)
}

// ProvideDatasetTrigger handles dataset-refreshed events, or nil when Kafka
// is disabled.
func ProvideDatasetTrigger(p *usecase.Pipeline, m repository.Metrics, cfg *config.Config, l *applogger.Logger) *usecase.DatasetRefreshedHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return usecase.NewDatasetRefreshedHandler(cfg.Kafka.TriggerTopic, p, m, l)
}

// ProvideKafkaConsumer creates the trigger consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	kc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(kc.GroupID),
		pkgkafka.WithConsumerWorkers(kc.Workers),
		pkgkafka.WithConsumerRetry(kc.RetryMax, kc.BackoffMin, kc.BackoffMax),
		pkgkafka.WithConsumerDLQ(kc.DLQTopic),
		pkgkafka.WithConsumerFetch(kc.MinBytes, kc.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.EventFilterHook{Events: []string{usecase.DatasetRefreshedEvent}},
		pkgkafka.LoggingHook{Logger: l},
	))
	return consumer, nil
}

// ProvideApp assembles the application and registers infrastructure for
// shutdown.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	p *usecase.Pipeline,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	trigger *usecase.DatasetRefreshedHandler,
	jobs *queue.RedisQueue,
	ch *pkgch.Client,
	store objstore.Store,
	c cache.Service,
	producer *pkgkafka.Producer,
) *server.App {
	var handler pkgkafka.MessageHandler
	if trigger != nil {
		handler = trigger
	}
	app := server.New(cfg, l, p, srv, consumer, handler, jobs)
	app.AddCloser("clickhouse", ch)
	app.AddCloser("object store", store)
	app.AddCloser("cache", c)
	if producer != nil {
		app.AddCloser("kafka producer", producer)
	}
	return app
}
