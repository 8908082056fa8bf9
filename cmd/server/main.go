package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pawmark/trapper/config"
	decisionrepo "github.com/pawmark/trapper/internal/repositories/decision"
	entityrepo "github.com/pawmark/trapper/internal/repositories/entity"
	householdrepo "github.com/pawmark/trapper/internal/repositories/household"
	orgdirectoryrepo "github.com/pawmark/trapper/internal/repositories/orgdirectory"
	suppressionrepo "github.com/pawmark/trapper/internal/repositories/suppressionentry"
	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/events"
	"github.com/pawmark/trapper/pkg/graph"
	"github.com/pawmark/trapper/pkg/kafka"
	"github.com/pawmark/trapper/pkg/logging"
	"github.com/pawmark/trapper/pkg/middleware"
	"github.com/pawmark/trapper/pkg/processor"
	"github.com/pawmark/trapper/pkg/resolution"
	entityroutes "github.com/pawmark/trapper/pkg/routes/entity"
	"github.com/pawmark/trapper/pkg/routes/health"
	householdroutes "github.com/pawmark/trapper/pkg/routes/household"
	resolutionroutes "github.com/pawmark/trapper/pkg/routes/resolution"
	reviewroutes "github.com/pawmark/trapper/pkg/routes/review"
	suppressionroutes "github.com/pawmark/trapper/pkg/routes/suppression"
	suppressionpkg "github.com/pawmark/trapper/pkg/suppression"
	"github.com/pawmark/trapper/pkg/survivorship"
	"github.com/pawmark/trapper/pkg/tracing"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flush, err := logging.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sqlxDB, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlxDB.Close()

	if err := migrateDatabase(cfg, logger, sqlxDB); err != nil {
		return err
	}

	db := database.NewDatabaseInstance(sqlxDB, logger)

	entities := entityrepo.NewRepository(db, logger)
	decisions := decisionrepo.NewRepository(db, logger)
	suppressions := suppressionrepo.NewRepository(db, logger)
	orgs := orgdirectoryrepo.NewRepository(db, logger)
	households := householdrepo.NewRepository(db, logger)

	engine := resolution.NewEngine(logger, db, entities, decisions, orgs, suppressions, survivorship.DefaultRules())
	detector := suppressionpkg.NewDetector(suppressions, logger)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer, logger)

	container, err := buildContainer(logger, entities, decisions, suppressions, households, engine, detector, emitter)
	if err != nil {
		return err
	}
	containerID := container.GetContainerID()

	var syncer *graph.Syncer
	if cfg.GraphProjectionEnabled {
		client, err := graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("Graph projection disabled, driver unavailable")
		} else {
			defer func() { _ = client.Close(context.Background()) }()
			syncer = graph.NewSyncer(graph.NewProjector(client, logger), entities, logger)
			if err := ectoinject.RegisterInstance[*graph.Syncer](container, syncer); err != nil {
				return err
			}
		}
	}

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		var graphSync processor.GraphSync
		if syncer != nil {
			graphSync = syncer
		}
		proc := processor.NewProcessor(logger, engine, emitter, graphSync)
		consumer = kafka.NewConsumer(cfg, logger, func(msgCtx context.Context, msg *kafka.IncomingMessage) error {
			msgCtx, err := ectoinject.SetActiveContainer(msgCtx, containerID)
			if err != nil {
				return err
			}
			return proc.ProcessMessage(msgCtx, msg)
		})
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = consumer.Stop() }()
	}

	startJobs(ctx, cfg, logger, containerID, detector, households, syncer)

	e := buildServer(cfg, logger, containerID)
	checker := health.NewChecker(sqlxDB, consumer, version)
	checker.RegisterRoutes(e)
	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()
	logger.WithFields(map[string]any{"port": cfg.Port}).Info("Server started")

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func connectDatabase(ctx context.Context, cfg config.Config, logger ectologger.Logger) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= cfg.DatabaseReconnectRetryCount; attempt++ {
		db, err = sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
		if err == nil {
			break
		}
		logger.WithError(err).Warnf("Database connection attempt %d failed", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func migrateDatabase(cfg config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
	})
	return ms.Migrate(cfg.DatabaseName, driver)
}

func buildContainer(
	logger ectologger.Logger,
	entities *entityrepo.Repository,
	decisions *decisionrepo.Repository,
	suppressions *suppressionrepo.Repository,
	households *householdrepo.Repository,
	engine *resolution.Engine,
	detector *suppressionpkg.Detector,
	emitter *events.Emitter,
) (ectocontainer.DIContainer, error) {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return nil, err
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*entityrepo.Repository](container, entities); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*decisionrepo.Repository](container, decisions); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*suppressionrepo.Repository](container, suppressions); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*householdrepo.Repository](container, households); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*resolution.Engine](container, engine); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*suppressionpkg.Detector](container, detector); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*events.Emitter](container, emitter); err != nil {
		return nil, err
	}
	return container, nil
}

func buildServer(cfg config.Config, logger ectologger.Logger, containerID string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second

	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomw.Recover())
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reqCtx, err := ectoinject.SetActiveContainer(req.Context(), containerID)
			if err != nil {
				return err
			}
			c.SetRequest(req.WithContext(reqCtx))
			return next(c)
		}
	})

	api := e.Group("/api/v1")
	resolutionroutes.Register(api.Group("/resolve"))
	reviewroutes.Register(api.Group("/reviews"))
	suppressionroutes.Register(api.Group("/suppressions"))
	entityroutes.Register(api.Group("/entities"))
	householdroutes.Register(api.Group("/households"))

	return e
}

func startJobs(
	ctx context.Context,
	cfg config.Config,
	logger ectologger.Logger,
	containerID string,
	detector *suppressionpkg.Detector,
	households *householdrepo.Repository,
	syncer *graph.Syncer,
) {
	if cfg.DetectorEnabled {
		go runPeriodic(ctx, cfg.DetectorInterval, func(jobCtx context.Context) {
			jobCtx, err := ectoinject.SetActiveContainer(jobCtx, containerID)
			if err != nil {
				logger.WithError(err).Error("Suppression detector pass failed to acquire container")
				return
			}
			count, err := detector.Run(jobCtx)
			if err != nil {
				logger.WithContext(jobCtx).WithError(err).Error("Suppression detector pass failed")
				return
			}
			logger.WithContext(jobCtx).WithFields(map[string]any{"entries_written": count}).Info("Suppression detector pass complete")
		})
	}

	if cfg.HouseholdDetectEnabled {
		go runPeriodic(ctx, cfg.HouseholdDetectInterval, func(jobCtx context.Context) {
			jobCtx, err := ectoinject.SetActiveContainer(jobCtx, containerID)
			if err != nil {
				logger.WithError(err).Error("Household detection pass failed to acquire container")
				return
			}
			links, err := households.DetectHouseholds(jobCtx)
			if err != nil {
				logger.WithContext(jobCtx).WithError(err).Error("Household detection pass failed")
				return
			}
			if syncer != nil {
				for _, link := range links {
					syncer.HouseholdLinked(jobCtx, link.Household, link.EntityID, link.Role)
				}
			}
			logger.WithContext(jobCtx).WithFields(map[string]any{"members_linked": len(links)}).Info("Household detection pass complete")
		})
	}
}

func runPeriodic(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
