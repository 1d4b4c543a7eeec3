package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/backdrop/internal/cache"
	"github.com/genricoloni/backdrop/internal/config"
	"github.com/genricoloni/backdrop/internal/control"
	"github.com/genricoloni/backdrop/internal/display"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/engine"
	"github.com/genricoloni/backdrop/internal/fetcher"
	"github.com/genricoloni/backdrop/internal/processor"
	"github.com/genricoloni/backdrop/internal/renderer"
	"github.com/genricoloni/backdrop/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions is the daemon's dependency graph
var AppOptions = fx.Options(
	// Provide dependencies
	fx.Provide(
		config.NewAppConfig,
		newLogger,
		func(cfg *config.AppConfig) domain.Config { return cfg },
		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		fx.Annotate(processor.NewImageProcessor, fx.As(new(domain.ImagePreparer))),
		newStore,
		newCache,
		newRenderer,
		newWatcher,
		newEngine,
		func(e *engine.Engine) control.Service { return e },
		control.NewServer,
	),

	// Lifecycle hooks
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		AppOptions,
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a production logger at the configured level
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level())
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newStore(logger *zap.Logger, cfg *config.AppConfig) *settings.Store {
	return settings.NewStore(logger.Named("settings"), cfg.SettingsPath)
}

func newCache(logger *zap.Logger, cfg *config.AppConfig, f domain.Fetcher) (*cache.Cache, error) {
	return cache.New(logger.Named("cache"), cfg.CacheDir, f)
}

func newRenderer(logger *zap.Logger, cfg *config.AppConfig, preparer domain.ImagePreparer) (renderer.Backend, error) {
	l := logger.Named("renderer")
	return renderer.New(context.Background(), l, cfg.Renderer, renderer.NewExecRunner(l), preparer, cfg.OutputDir)
}

// newWatcher prefers RandR, whose output names are stable, over polling
func newWatcher(logger *zap.Logger, cfg *config.AppConfig) display.Watcher {
	l := logger.Named("display")
	return display.NewFallback(l,
		display.NewRandR(l),
		display.NewPoller(l, display.ScreenshotSource{}, cfg.DisplayPoll),
	)
}

func newEngine(logger *zap.Logger, store *settings.Store, c *cache.Cache, w display.Watcher, r renderer.Backend) *engine.Engine {
	return engine.NewEngine(logger.Named("engine"), store, c, w, r)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg *config.AppConfig,
	eng *engine.Engine,
	server *control.Server,
	backend renderer.Backend,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cfg.Log(logger)

			if err := server.Start(ctx); err != nil {
				if errors.Is(err, control.ErrAlreadyRunning) {
					return err
				}
				logger.Warn("Control interface unavailable, the CLI cannot reach this daemon", zap.Error(err))
			}
			if err := eng.Start(ctx); err != nil {
				_ = server.Stop(ctx)
				return err
			}
			logger.Info("Backdrop Daemon Started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			if err := server.Stop(ctx); err != nil {
				logger.Warn("Failed to close control interface", zap.Error(err))
			}
			err := eng.Stop(ctx)
			if rerr := backend.Restore(ctx); rerr != nil {
				logger.Error("Failed to restore original wallpaper", zap.Error(rerr))
			}
			_ = logger.Sync()
			return err
		},
	})
}
