package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/streamwatch/stream-service/config"
	"github.com/streamwatch/stream-service/internal/collector"
	"github.com/streamwatch/stream-service/internal/database"
	"github.com/streamwatch/stream-service/internal/handlers"
	"github.com/streamwatch/stream-service/internal/jobs"
	"github.com/streamwatch/stream-service/internal/storage"
	"github.com/streamwatch/stream-service/internal/streams"
	"github.com/streamwatch/stream-service/internal/telemetry"
	"github.com/streamwatch/stream-service/internal/upstream"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)
	zlog.Logger = *logger

	logger.Info().Msg("Starting stream service worker")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	if cfg.Scheduler.AutoMigrate {
		if err := database.Migrate(ctx, database.Pool()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		logger.Info().Msg("Schema migrated")
	}

	cleanup := telemetry.MustInit(ctx, telemetry.GetConfigFromEnv())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	snapshots, err := storage.NewLocalStorage(cfg.Storage.BasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize snapshot storage")
	}

	pool := database.Pool()
	notifier := jobs.NewPGNotifier(pool, dbURL, cfg.Scheduler.WakeChannel)
	jobStore := jobs.NewPGStore(pool, notifier)
	streamStore := streams.NewStore(pool)

	httpClient := upstream.NewClient(upstream.Config{
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		MaxRetries:        cfg.Upstream.MaxRetries,
		InitialBackoffMs:  cfg.Upstream.InitialBackoffMs,
		MaxBackoffMs:      cfg.Upstream.MaxBackoffMs,
	})
	youtube := upstream.NewYouTubeClient(httpClient, upstream.YouTubeOptions{
		InnertubeBaseURL: cfg.Upstream.InnertubeBaseURL,
		VideosBaseURL:    cfg.Upstream.VideosBaseURL,
	})
	twitch := upstream.NewTwitchHelixClient(httpClient,
		cfg.Upstream.TwitchBaseURL, cfg.Upstream.TwitchClientID, cfg.Upstream.TwitchAuthToken)

	ytCollector := collector.NewYouTubeCollector(streamStore, jobStore, youtube, youtube, youtube, snapshots)
	twCollector := collector.NewTwitchCollector(streamStore, jobStore, twitch)
	routines := collector.NewSet(pool, ytCollector, twCollector, collector.Collaborators{})

	dispatcher := jobs.NewDispatcher(jobStore, routines)
	scheduler := jobs.NewScheduler(jobStore, notifier, dispatcher, cfg.Scheduler.MaxIdleSleep)

	srv := startListener(cfg, logger)

	// Blocks until the signal context is cancelled, then drains in-flight
	// jobs before returning.
	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Scheduler exited with error")
	}

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Listener forced to shutdown")
	}

	logger.Info().Msg("Worker exited")
}

// startListener serves /health and /metrics; the worker has no other HTTP
// surface.
func startListener(cfg *config.Config, logger *zerolog.Logger) *http.Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start listener")
		}
	}()
	return srv
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "stream-service").Logger()
	return &logger
}
