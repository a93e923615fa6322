// Package main contains the entrypoint for the recommendation bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/recbot/internal/bot"
	"github.com/edgard/recbot/internal/bot/handlers"
	"github.com/edgard/recbot/internal/bot/tasks"
	"github.com/edgard/recbot/internal/chat"
	"github.com/edgard/recbot/internal/config"
	"github.com/edgard/recbot/internal/database"
	"github.com/edgard/recbot/internal/identity"
	"github.com/edgard/recbot/internal/logger"
	"github.com/edgard/recbot/internal/osu"
	"github.com/edgard/recbot/internal/ratelimit"
	"github.com/edgard/recbot/internal/recommend"
	"github.com/edgard/recbot/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires all components together, blocks until ctx is cancelled and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.Open(cfg.Database.Path, log)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.Close(db, log)
	store := database.NewStore(db, log)

	// The scheduled task picks up later changes; a bad file only leaves
	// the stored candidates in place.
	importer := recommend.NewImporter(cfg.Recommend.CandidatesFile, store, log)
	if _, err := importer.Import(ctx); err != nil {
		log.Error("Failed to import candidates", "path", cfg.Recommend.CandidatesFile, "error", err)
	}

	directory, err := osu.NewClient(osu.Config{
		BaseURL:           cfg.Directory.BaseURL,
		APIKey:            cfg.Directory.APIKey,
		Timeout:           cfg.Directory.Timeout,
		RequestsPerMinute: cfg.Directory.RequestsPerMinute,
		Attempts:          cfg.Directory.Attempts,
		RetryDelay:        cfg.Directory.RetryDelay,
		BreakerFailures:   cfg.Directory.BreakerFailures,
		BreakerCooldown:   cfg.Directory.BreakerCooldown,
	}, log)
	if err != nil {
		log.Error("Failed to create osu! API client", "error", err)
		return 1
	}

	resolver := identity.NewResolver(directory, store, log,
		identity.WithUserMaxAge(cfg.Directory.UserMaxAge),
		identity.WithMissTTL(cfg.Directory.MissTTL),
	)

	engine, err := recommend.NewEngine(recommend.Config{
		Tiers:              cfg.Recommend.Tiers,
		ExhaustionAttempts: cfg.Recommend.ExhaustionAttempts,
		BatchSize:          cfg.Recommend.BatchSize,
		Seed:               cfg.Recommend.Seed,
		ExhaustedMessage:   cfg.Messages.Exhausted,
	}, recommend.NewStoreSource(store), store, log)
	if err != nil {
		log.Error("Failed to create recommendation engine", "error", err)
		return 1
	}

	limiter := ratelimit.New(ratelimit.Config{
		Window:         cfg.RateLimit.Window,
		MaxEvents:      cfg.RateLimit.MaxEvents,
		MaxTrackedKeys: cfg.RateLimit.MaxTrackedKeys,
	})

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Messages: cfg.Messages,
		Store:    store,
		Resolver: resolver,
		Engine:   engine,
		Stats:    directory,
		Beatmaps: directory,
	}
	tDeps := tasks.TaskDeps{
		Logger:      log,
		Store:       store,
		RateLimiter: limiter,
		Identities:  resolver,
		Candidates:  importer,
	}

	// The source needs the bot's username, which is only known once the
	// Telegram client exists.
	var source *telegram.Source
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			source.Handle(ctx, b, update)
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	queue := chat.NewResponseQueue(chat.NewDeliverer(telegram.NewSink(tg), log), cfg.Queue.Capacity, log)
	app := bot.NewBot(bot.Deps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Identities: resolver,
		Limiter:    limiter,
		Engine:     engine,
		Commands:   handlers.RegisterAllCommands(hDeps),
		FreeText:   handlers.RegisterFreeText(hDeps),
		Actions:    handlers.RegisterActions(hDeps),
		Queue:      queue,
		Listener:   tg,
		Scheduler:  sched,
	})
	source = telegram.NewSource(app.OnEvent, cfg.Telegram.BotInfo.Username, log)

	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}
