package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"drainbot/internal/bot"
	"drainbot/internal/config"
	"drainbot/internal/db"
	"drainbot/internal/pixeldrain"
	"drainbot/internal/telegram"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("download dir error")
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("db open error")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.AuthUserIDs) > 0 {
		if err := store.Seed(ctx, cfg.AuthUserIDs); err != nil {
			logger.Fatal().Err(err).Msg("seed authorized users error")
		}
		logger.Info().Int("count", len(cfg.AuthUserIDs)).Msg("seeded authorized users from env")
	}

	tg := telegram.NewClient(cfg.BotToken, cfg.TelegramAPIURL, cfg.PollTimeout)
	me, err := tg.GetMe(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram getMe error, check BOT_TOKEN")
	}
	logger.Info().Int64("id", me.ID).Str("username", me.Username).Msg("authenticated with telegram")

	pd := pixeldrain.NewClient(cfg.PixeldrainAPIKey, cfg.PixeldrainAPIURL, cfg.UploadTimeout)
	runner := bot.New(cfg, store, tg, pd, logger.With().Str("component", "bot").Logger())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})

	logger.Info().Msg("bot started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("bot stopped")
	}

	// In-flight transfers keep running past shutdown; let them finish so no
	// staging file is left referenced by a live job.
	logger.Info().Msg("draining in-flight transfers")
	runner.Drain()
	logger.Info().Msg("bye")
}
