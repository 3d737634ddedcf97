package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/microstock-tagger/config"
	"github.com/raine/microstock-tagger/internal/bot"
	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/media"
	"github.com/raine/microstock-tagger/internal/storage"
	"github.com/raine/microstock-tagger/internal/web"
	"github.com/raine/microstock-tagger/internal/workflow"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const logFileName = "microstock-tagger.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Try to load existing config files
	config.LoadEnvFile()

	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}

	closeLog := setupLogging(cfg.LogLevel)
	defer closeLog()

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	generator, err := llm.NewGenerator(ctx, cfg.AI, &http.Client{Timeout: cfg.GenerationTimeout})
	if err != nil {
		fatal("failed to initialize %s generator: %v", cfg.AI.Provider, err)
	}
	log.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model()).Msg("metadata generator initialized")

	var usage web.UsageReporter
	if cfg.UsageDBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.UsageDBPath)
		if err != nil {
			fatal("failed to initialize usage ledger: %v", err)
		}
		defer store.Close()
		generator = llm.NewRecordingGenerator(generator, store, cfg.AI.Model())
		usage = store
		log.Info().Str("dbPath", cfg.UsageDBPath).Msg("usage ledger initialized")
	}

	previews, err := media.New(ctx, cfg.Preview)
	if err != nil {
		fatal("failed to initialize preview store: %v", err)
	}
	log.Info().Str("store", cfg.Preview.Store).Msg("preview store initialized")

	sessions := workflow.NewManager(workflow.SessionConfig{
		Generator: generator,
		Previews:  previews,
		Timeout:   cfg.GenerationTimeout,
	}, cfg.SessionIdleTTL)

	server, err := web.New(web.Options{
		Port:           cfg.Port,
		Sessions:       sessions,
		Previews:       previews,
		Usage:          usage,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SessionSecret:  cfg.SessionSecret,
		SecureCookies:  cfg.SecureCookies,
	})
	if err != nil {
		fatal("failed to initialize web server: %v", err)
	}
	if cfg.SessionSecret == "" {
		log.Warn().Msg("SESSION_SECRET is not set, sessions will not survive a restart")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(ctx)
	})

	g.Go(func() error {
		return sessions.Run(ctx)
	})

	if cfg.BotToken != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			fatal("failed to initialize telegram bot: %v", err)
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")

		// Register bot commands for Telegram's command menu
		if err := bot.RegisterCommands(tg); err != nil {
			log.Warn().Err(err).Msg("continuing without a command menu")
		}

		g.Go(func() error {
			return runBot(ctx, tg, sessions, cfg.MaxUploadBytes)
		})
	} else {
		log.Info().Msg("BOT_TOKEN is not set, telegram bot disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// loadConfig reads the configuration, running the setup wizard when only the
// provider key is missing and a terminal is attached.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err == nil {
		return cfg, nil
	}

	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) || !cfgErr.MissingCredential() || !config.IsInteractiveTerminal() {
		// Non-interactive (systemd, docker, etc.) - fail with clear error
		return config.Config{}, err
	}
	if !config.RunSetupWizard() {
		config.WaitOnWindows()
		os.Exit(1)
	}
	return config.Load()
}

func setupLogging(level string) func() {
	if lvl, err := zerolog.ParseLevel(level); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd (journald handles it).
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return func() {}
	}

	// Local development: log to both stderr and file
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fatal("failed to open log file: %v", err)
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))

	log.Info().Str("logFile", logFileName).Msg("logging to file")
	return func() { logFile.Close() }
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, sessions *workflow.Manager, maxUpload int64) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		tg.StopReceivingUpdates()
	}()

	return bot.NewBot(tg, sessions, maxUpload).Run(ctx, updates)
}
