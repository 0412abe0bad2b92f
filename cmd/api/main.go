package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"videogen/internal/api"
	"videogen/internal/artifacts"
	"videogen/internal/config"
	"videogen/internal/media"
	"videogen/internal/notify"
	"videogen/internal/orchestrator"
	"videogen/internal/provider"
	"videogen/internal/ratelimit"
	"videogen/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	for _, dir := range []string{cfg.VideosDir, cfg.UploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("create media dir")
		}
	}

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	sink := notify.NewRedisSink(redisClient, log)
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	registry := provider.NewRegistry(provider.Credentials{
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		GoogleAPIKey: cfg.GoogleAPIKey,
	}, cfg.VideosDir, cfg.FFmpegBin)

	archiver, err := artifacts.NewS3Archiver(ctx, artifacts.S3Config{
		Bucket:    cfg.ArtifactS3Bucket,
		Region:    cfg.ArtifactS3Region,
		Endpoint:  cfg.ArtifactS3Endpoint,
		PathStyle: cfg.ArtifactS3PathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("artifact archiver")
	}

	orch := orchestrator.New(orchestrator.Options{
		Store:        st,
		Registry:     registry,
		Sink:         sink,
		Frames:       media.NewFrameExtractor(cfg.FFmpegBin),
		Archiver:     archiver,
		Logger:       log,
		VideosDir:    cfg.VideosDir,
		CallTimeout:  cfg.CallTimeout,
		FetchTimeout: cfg.FetchTimeout,
		PollInterval: cfg.PollInterval,
		BackoffMax:   cfg.PollBackoffMax,
		PollWorkers:  cfg.PollWorkers,
	})

	// Timers are in-memory; rebuild them from the store before serving.
	if err := orch.Resume(ctx); err != nil {
		log.Fatal().Err(err).Msg("resume polling")
	}

	server := api.New(orch, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	orch.Shutdown()
	log.Info().Msg("shut down cleanly")
}

func newLogger(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log
}
