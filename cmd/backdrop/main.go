package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/genricoloni/backdrop/internal/config"
	"github.com/genricoloni/backdrop/internal/control"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/settings"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Controller is the subset of the daemon's bus API the CLI drives
type Controller interface {
	Next(ctx context.Context) error
	Pin(ctx context.Context, id string) error
	Resume(ctx context.Context) error
	CleanCache(ctx context.Context, force bool) (int, int64, error)
	Status(ctx context.Context) (domain.Status, error)
	Close() error
}

type app struct {
	logger  *zap.Logger
	store   *settings.Store
	dial    func() (Controller, error)
	out     io.Writer
	timeout time.Duration
	now     func() time.Time
}

func main() {
	root := newRootCommand(nil)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. A nil override lets
// PersistentPreRunE build the app from configuration.
func newRootCommand(override *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "backdrop",
		Short:        "Manage the backdrop wallpaper library and daemon",
		SilenceUsage: true,
	}

	var (
		settingsPath string
		timeout      time.Duration
		verbose      bool
	)

	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default from config)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "daemon call timeout")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if override != nil {
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, override))
			return nil
		}

		logger, err := newLogger(verbose)
		if err != nil {
			return err
		}

		cfg, err := config.NewAppConfig()
		if err != nil {
			return err
		}
		if settingsPath == "" {
			settingsPath = cfg.SettingsPath
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			logger: logger,
			store:  settings.NewStore(logger.Named("settings"), settingsPath),
			dial: func() (Controller, error) {
				return control.Dial()
			},
			out:     cmd.OutOrStdout(),
			timeout: timeout,
			now:     time.Now,
		}))
		return nil
	}

	root.AddCommand(addCommand())
	root.AddCommand(removeCommand())
	root.AddCommand(favoriteCommand())
	root.AddCommand(listCommand())
	root.AddCommand(setCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(pinCommand())
	root.AddCommand(resumeCommand())
	root.AddCommand(cleanCommand())
	root.AddCommand(statusCommand())

	return root
}

// newLogger writes warnings to stderr, or everything with verbose set
func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

// withDaemon dials the daemon and runs fn with a bounded context
func (a *app) withDaemon(fn func(ctx context.Context, c Controller) error) error {
	c, err := a.dial()
	if err != nil {
		a.logger.Debug("Session bus unavailable", zap.Error(err))
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := fn(ctx, c); err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			return fmt.Errorf("%w (start backdropd first)", err)
		}
		return err
	}
	return nil
}
