package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/lily/config"
	"github.com/Ramsey-B/lily/pkg/audit"
	"github.com/Ramsey-B/lily/pkg/database"
	"github.com/Ramsey-B/lily/pkg/health"
	"github.com/Ramsey-B/lily/pkg/kafka"
	"github.com/Ramsey-B/lily/pkg/redis"
	"github.com/Ramsey-B/lily/pkg/repositories"
	"github.com/Ramsey-B/lily/pkg/startup"
	"github.com/Ramsey-B/lily/pkg/tracing"
	"github.com/Ramsey-B/lily/pkg/tracing/exporters"
)

// app holds the process-wide dependencies. Fields are populated by the
// startup graph in dependency order.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	health *health.Checker

	tracerProvider *sdktrace.TracerProvider
	db             database.DB
	redis          *redis.Client
	producer       *kafka.Producer
	recorder       *audit.AsyncRecorder
	deadLetters    *audit.Redeliverer
	server         *http.Server

	serverErrors chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:          cfg,
		logger:       logger,
		health:       health.NewChecker(Version),
		serverErrors: make(chan error, 1),
	}
}

func (a *app) dependencies() []startup.StartupDependency {
	return []startup.StartupDependency{
		startup.Dependency{Name: "tracing", OnStart: a.startTracing, OnStop: a.stopTracing},
		startup.Dependency{Name: "postgres", OnStart: a.startPostgres, OnStop: a.stopPostgres},
		startup.Dependency{Name: "migrations", Requires: []string{"postgres"}, OnStart: a.migrate},
		startup.Dependency{Name: "redis", OnStart: a.startRedis, OnStop: a.stopRedis},
		startup.Dependency{Name: "kafka", OnStart: a.startKafka, OnStop: a.stopKafka},
		startup.Dependency{Name: "audit", Requires: []string{"postgres", "redis", "kafka"}, OnStart: a.startAudit, OnStop: a.stopAudit},
		startup.Dependency{
			Name:     "http",
			Requires: []string{"tracing", "migrations", "redis", "audit"},
			OnStart:  a.startServer,
			OnStop:   a.stopServer,
		},
	}
}

func (a *app) startTracing(ctx context.Context) error {
	var exporter sdktrace.SpanExporter = exporters.DiscardExporter{}
	if a.cfg.OTLPEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: a.cfg.OTLPEndpoint,
			Protocol: a.cfg.OTLPProtocol,
			Insecure: a.cfg.OTLPInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		exporter = otlp
	}

	a.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", a.cfg.AppName),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetTracerProvider(a.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	tracing.SetTracer(a.tracerProvider.Tracer(a.cfg.AppName))
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.tracerProvider == nil {
		return nil
	}
	return a.tracerProvider.Shutdown(ctx)
}

func (a *app) startPostgres(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		a.cfg.DatabaseHost, a.cfg.DatabasePort, a.cfg.DatabaseUserName,
		a.cfg.DatabasePassword, a.cfg.DatabaseName, a.cfg.DatabaseSSLMode)

	conn, err := sqlx.ConnectContext(ctx, a.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	conn.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	conn.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	conn.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	a.db = database.NewDatabaseInstance(conn, a.logger)
	a.health.AddCheck("postgres", health.PingFunc(a.db.PingContext))
	a.logger.Infof("Connected to postgres at %s:%s", a.cfg.DatabaseHost, a.cfg.DatabasePort)
	return nil
}

func (a *app) stopPostgres(_ context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) migrate(_ context.Context) error {
	instance, ok := a.db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("unexpected database type %T", a.db)
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return migrations.MigratePostgres(instance.DB.DB, a.cfg.DatabaseName)
}

func (a *app) startRedis(_ context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.health.AddCheck("redis", client)
	return nil
}

func (a *app) stopRedis(_ context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startKafka(_ context.Context) error {
	kafkaCfg := kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaAuditTopic)
	if !kafkaCfg.Enabled() {
		a.logger.Warn("KAFKA_BROKERS is empty, audit entries are only written to postgres")
		return nil
	}
	a.producer = kafka.NewProducer(kafkaCfg, a.logger)
	a.health.AddOptionalCheck("kafka", a.producer)
	return nil
}

func (a *app) stopKafka(_ context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startAudit(_ context.Context) error {
	sinks := []audit.Sink{audit.NewDBSink(repositories.NewAuditLogRepository(a.db, a.logger))}
	if a.producer != nil {
		sinks = append(sinks, audit.NewKafkaSink(a.producer))
	}
	parked := redis.NewDeadLetterQueue(a.redis, a.cfg.AuditDeadLetterStream, a.logger)
	a.deadLetters = audit.NewRedeliverer(parked, a.logger, sinks...)
	a.recorder = audit.NewAsyncRecorderWithDeadLetters(a.cfg.AuditQueueSize, parked, a.logger, sinks...)
	return nil
}

func (a *app) stopAudit(ctx context.Context) error {
	if a.recorder == nil {
		return nil
	}
	return a.recorder.Close(ctx)
}

func (a *app) startServer(ctx context.Context) error {
	e, err := a.newEcho(ctx)
	if err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.serverErrors <- err
		}
	}()
	return nil
}

func (a *app) stopServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
