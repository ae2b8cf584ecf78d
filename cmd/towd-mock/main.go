package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roginn/towd-you-so/internal/agent"
	"github.com/roginn/towd-you-so/internal/config"
	"github.com/roginn/towd-you-so/internal/domain"
	"github.com/roginn/towd-you-so/internal/server"
	"github.com/roginn/towd-you-so/internal/store/memory"
	"github.com/roginn/towd-you-so/internal/store/postgres"
	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

// dataStore is the repository surface shared by the PostgreSQL and
// in-memory stores.
type dataStore interface {
	Sessions() domain.SessionLogRepository
	Files() domain.FileRepository
}

// broker is the pub/sub surface shared by the Redis and in-memory brokers.
type broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	level, parseErr := zerolog.ParseLevel(os.Getenv("TOWD_LOG_LEVEL"))
	if parseErr != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("TOWD_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Sessions and uploads live in PostgreSQL when configured, in memory
	// otherwise.
	var store dataStore
	if cfg.Database.Enabled() {
		pg, pgErr := postgres.New(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked by config
		if pgErr != nil {
			return pgErr
		}
		defer pg.Close()
		if migrateErr := pg.Migrate(ctx); migrateErr != nil {
			return migrateErr
		}
		store = pg
		log.Info().Msg("using postgres store")
	} else {
		store = memory.New()
	}

	// Frames fan out through Redis when configured, in process otherwise.
	var pubsub broker
	if cfg.Redis.Enabled() {
		rps, redisErr := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			return redisErr
		}
		pubsub = rps
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis pub/sub")
	} else {
		pubsub = memory.NewPubSub()
	}
	defer pubsub.Close()

	orchestrator := agent.NewOrchestrator(
		store.Sessions(),
		agent.DefaultTools(time.Now),
		pubsub,
		agent.Options{StreamDelay: cfg.Mock.StreamDelay},
	)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(ctx, cfg, store, pubsub, orchestrator)

	go func() {
		log.Info().Str("addr", cfg.Mock.Addr).Msg("starting mock backend")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}
	orchestrator.Shutdown()

	log.Info().Msg("stopped")
	return nil
}
