package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/api"
	"github.com/gmsas95/pillpal/internal/channels/discord"
	"github.com/gmsas95/pillpal/internal/channels/telegram"
	"github.com/gmsas95/pillpal/internal/config"
	"github.com/gmsas95/pillpal/internal/cron"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App wires the store, the adherence engine, notifiers, the liveness
// runner and the HTTP server together.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Hub         *notify.Hub
	Dispatcher  *notify.Dispatcher
	Engine      *adherence.Engine
	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	CronRunner  *cron.Runner
	Version     string
}

func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	if cfg == nil {
		cfg = config.Default("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.Default()
	hub := notify.NewHub(logger.Named("hub"), m)

	app := &App{
		Config:     cfg,
		Store:      st,
		Logger:     logger,
		Metrics:    m,
		Hub:        hub,
		Dispatcher: notify.NewDispatcher(logger.Named("notify"), m, hub),
		Version:    version,
	}
	if st != nil {
		app.Engine = adherence.New(st, adherence.Options{
			Location:   cfg.Location(),
			WindowDays: cfg.Adherence.StreakWindowDays,
			Logger:     logger.Named("adherence"),
			Metrics:    m,
		})
	}
	return app
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// SetupNotifiers registers the enabled push channels with the
// dispatcher. Chat channels route each event to its owner through the
// store. A channel that fails to come up is logged and skipped.
func (app *App) SetupNotifiers() {
	var dir notify.Directory
	if app.Store != nil {
		dir = userDirectory{store: app.Store}
	}

	tg := app.Config.Notify.Telegram
	if tg.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:       tg.BotToken,
			AdminChatID: tg.AdminChatID,
			Directory:   dir,
		}, app.Logger.Named("telegram"))
		if err != nil {
			app.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else {
			app.TelegramBot = bot
			app.Dispatcher.Add(bot)
		}
	}

	dc := app.Config.Notify.Discord
	if dc.Enabled {
		bot, err := discord.NewBot(discord.Config{
			Token:          dc.Token,
			AdminChannelID: dc.AdminChannelID,
			Directory:      dir,
		}, app.Logger.Named("discord"))
		if err != nil {
			app.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else {
			app.DiscordBot = bot
			app.Dispatcher.Add(bot)
		}
	}

	app.Logger.Info("Notifiers ready", zap.Strings("channels", app.Dispatcher.Names()))
}

// StartLiveness starts the offline sweep when it is enabled.
func (app *App) StartLiveness() error {
	if !app.Config.Liveness.Enabled {
		return nil
	}
	offlineAfter, err := app.Config.OfflineAfter()
	if err != nil {
		return err
	}

	runner, err := cron.NewRunner(cron.Config{
		Schedule:     app.Config.Liveness.Schedule,
		OfflineAfter: offlineAfter,
	}, app.Store, app.Dispatcher, app.Metrics, app.Logger.Named("cron"))
	if err != nil {
		return err
	}
	if err := runner.Start(); err != nil {
		return err
	}
	app.CronRunner = runner
	return nil
}

// ApplyConfig takes the hot-reloadable settings from a re-read config.
// Everything else needs a restart.
func (app *App) ApplyConfig(next *config.Config) {
	if next == nil || app.CronRunner == nil {
		return
	}
	d, err := next.OfflineAfter()
	if err != nil {
		app.Logger.Warn("Ignoring config reload", zap.Error(err))
		return
	}
	if d == app.CronRunner.OfflineAfter() {
		return
	}
	app.CronRunner.SetOfflineAfter(d)
	app.Logger.Info("Liveness threshold reloaded", zap.Duration("offline_after", d))
}

// Summary computes the adherence summary outside of the HTTP server.
func (app *App) Summary(ctx context.Context, userID string, at time.Time) (*adherence.Summary, error) {
	if app.Engine == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	return app.Engine.Summary(ctx, userID, at)
}

func (app *App) newServer() *api.Server {
	if app.Version != "" {
		api.Version = app.Version
	}
	return api.New(app.Config, api.Deps{
		Store:      app.Store,
		Engine:     app.Engine,
		Dispatcher: app.Dispatcher,
		Hub:        app.Hub,
		Metrics:    app.Metrics,
	}, app.Logger.Named("api"))
}

// Run serves until ctx is cancelled or the listener fails, then stops
// the liveness runner, the bots and the server.
func (app *App) Run(ctx context.Context) error {
	app.SetupNotifiers()
	if err := app.StartLiveness(); err != nil {
		return fmt.Errorf("failed to start liveness sweep: %w", err)
	}

	server := app.newServer()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("url", fmt.Sprintf("http://localhost:%d", app.Config.Server.Port)),
		zap.String("timezone", app.Config.Location().String()),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	app.Logger.Info("Shutting down...")

	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}
	if app.DiscordBot != nil {
		if err := app.DiscordBot.Stop(); err != nil {
			app.Logger.Warn("Discord shutdown error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	return runErr
}

// RunServer runs until SIGINT or SIGTERM.
func (app *App) RunServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}
