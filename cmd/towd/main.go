package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/roginn/towd-you-so/internal/backend"
	"github.com/roginn/towd-you-so/internal/channel"
	"github.com/roginn/towd-you-so/internal/chat"
	"github.com/roginn/towd-you-so/internal/config"
	"github.com/roginn/towd-you-so/internal/notify"
	redisstore "github.com/roginn/towd-you-so/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("towd failed")
		fmt.Fprintln(os.Stderr, "towd:", err)
		os.Exit(1)
	}
}

func run() error {
	logFile, err := setupLogging()
	if err != nil {
		return err
	}
	defer logFile.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := backend.New(cfg.API.BaseURL, backend.Options{
		Timeout:        cfg.API.Timeout,
		RateLimit:      cfg.API.RateLimit,
		RateBurst:      cfg.API.RateBurst,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	})
	slot := channel.NewSlot(cfg.API.WSURL, nil)

	refreshers := notify.NewRegistry()
	refreshers.Register("log", notify.RefreshFunc(func(_ context.Context, sessionID uuid.UUID) error {
		log.Debug().Str("session_id", sessionID.String()).Msg("turn complete")
		return nil
	}))
	if cfg.Redis.Enabled() {
		pubsub, redisErr := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()
		refreshers.Register("redis", notify.New(pubsub))
	}

	conv := chat.New(api, slot, api, chat.Options{Refresher: refreshers, Debug: cfg.Debug})
	defer conv.Close()

	r := &repl{conv: conv, debug: cfg.Debug}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return conv.Run(gctx) })
	g.Go(func() error {
		p := tea.NewProgram(newModel(gctx, conv, r), tea.WithAltScreen(), tea.WithContext(gctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("towd: terminal ui: %w", err)
		}
		return errQuit
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// setupLogging sends logs to a file: the terminal belongs to the UI.
// TOWD_LOG_FILE overrides the default location in the temp directory.
func setupLogging() (io.Closer, error) {
	level, err := zerolog.ParseLevel(os.Getenv("TOWD_LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	path := os.Getenv("TOWD_LOG_FILE")
	if path == "" {
		path = filepath.Join(os.TempDir(), "towd.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("towd: open log file: %w", err)
	}

	if os.Getenv("TOWD_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: f, NoColor: true}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}
	return f, nil
}
