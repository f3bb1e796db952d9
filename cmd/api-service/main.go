package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/api/handler"
	"github.com/cuongbtq/stem-splitter/internal/api/router"
	"github.com/cuongbtq/stem-splitter/internal/config"
	"github.com/cuongbtq/stem-splitter/internal/events"
	"github.com/cuongbtq/stem-splitter/internal/pipeline"
	"github.com/cuongbtq/stem-splitter/internal/worker"
	"github.com/cuongbtq/stem-splitter/internal/worker/storage"
	"github.com/cuongbtq/stem-splitter/shared/logger"
	"github.com/cuongbtq/stem-splitter/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	store, err := storage.NewStorage(cfg.Storage.OutputRoot, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		rabbitClient *rabbitmq.Client
		publisher    events.Publisher = events.NopPublisher{}
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(ctx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher = events.NewRabbitPublisher(rabbitClient, cfg.RabbitMQ.EventsRoutingKey, appLogger.Component("events"))
		appLogger.Info("RabbitMQ connection established")
	}

	jobWorker := initWorker(cfg, store, publisher, appLogger)

	if err := jobWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer jobWorker.Stop()

	r := initRouter(cfg, appLogger.Logger, jobWorker)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	if rabbitClient != nil && cfg.RabbitMQ.Intake.Queue != "" {
		intake := worker.NewIntake(worker.IntakeConfig{
			Logger:        appLogger.Component("intake"),
			Source:        rabbitClient,
			Submitter:     jobWorker,
			PrefetchCount: cfg.RabbitMQ.Intake.PrefetchCount,
			ConsumerTag:   cfg.RabbitMQ.Intake.ConsumerTag,
		})
		g.Go(func() error {
			return intake.Run(gctx)
		})
	}

	appLogger.Info("API service is running", slog.String("address", addr))

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		Color:        cfg.Color,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Intake.Queue,
		QueueDurable:       cfg.Intake.Durable,
		QueueAutoDelete:    cfg.Intake.AutoDelete,
		QueueExclusive:     cfg.Intake.Exclusive,
		RoutingKey:         cfg.Intake.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initWorker wires the command-line pipeline tools into the job worker
func initWorker(cfg *config.Config, store *storage.Storage, publisher events.Publisher, appLogger *logger.Logger) *worker.Worker {
	pipelineLogger := appLogger.Component("pipeline")

	return worker.NewWorker(&worker.Config{
		Logger:  appLogger.Component("worker"),
		Storage: store,
		Fetcher: pipeline.NewYtDlpFetcher(pipeline.FetcherConfig{
			Binary:       cfg.Tools.YtDlp,
			AudioQuality: cfg.Tools.AudioQuality,
			Logger:       pipelineLogger,
		}),
		Separator: pipeline.NewDemucsSeparator(pipeline.SeparatorConfig{
			DemucsBinary: cfg.Tools.Demucs,
			Model:        cfg.Tools.DemucsModel,
			FFmpegBinary: cfg.Tools.FFmpeg,
			Bitrate:      cfg.Tools.MixBitrate,
			Logger:       pipelineLogger,
		}),
		Analyzer: pipeline.NewCommandAnalyzer(pipeline.AnalyzerConfig{
			AubioBinary:     cfg.Tools.Aubio,
			KeyFinderBinary: cfg.Tools.KeyFinder,
			Logger:          pipelineLogger,
		}),
		Tagger: pipeline.NewFFmpegTagger(pipeline.TaggerConfig{
			FFmpegBinary: cfg.Tools.FFmpeg,
			Logger:       pipelineLogger,
		}),
		Publisher:    publisher,
		MaxDuration:  cfg.Worker.MaxDuration,
		IdleInterval: cfg.Worker.IdleInterval,
	})
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobs handler.JobService) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger: logger,
		Jobs:   jobs,
	}, router.Options{
		ServiceName:     cfg.App.Name,
		SubmitRateLimit: cfg.Server.SubmitRateLimit,
		SubmitBurst:     cfg.Server.SubmitBurst,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})
}
